//go:build !race

package moderation

const raceDetectorEnabled = false
