/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math/rand"
	"strings"
)

var drawingWords = []string{
	"airplane", "anchor", "apple", "balloon", "banana", "beach", "bicycle",
	"bridge", "butterfly", "cactus", "camera", "campfire", "candle", "castle",
	"caterpillar", "cloud", "compass", "crown", "diamond", "dinosaur",
	"dolphin", "dragon", "drum", "elephant", "envelope", "feather", "fire",
	"flashlight", "flower", "fountain", "giraffe", "guitar", "hammer",
	"helicopter", "hourglass", "igloo", "island", "jellyfish", "kangaroo",
	"kite", "ladder", "lighthouse", "lightning", "mermaid", "microscope",
	"moon", "mountain", "mushroom", "octopus", "owl", "penguin", "pirate",
	"pyramid", "rainbow", "robot", "rocket", "sailboat", "scarecrow",
	"snowman", "spider", "submarine", "telescope", "tornado", "treasure",
	"umbrella", "unicorn", "volcano", "waterfall", "whale", "windmill",
}

// pickWords returns n distinct random words from the drawing word list.
func pickWords(n int) []string {
	ix := rand.Perm(len(drawingWords))[:n]
	out := make([]string, n)
	for i, j := range ix {
		out[i] = drawingWords[j]
	}
	return out
}

// maskWord replaces letters with underscores, keeping spaces and hyphens so
// guessers can see the word shape.
func maskWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch r {
		case ' ', '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
