//go:build race

package moderation

// raceDetectorEnabled relaxes latency assertions in tests when the race
// detector instruments the build.
const raceDetectorEnabled = true
