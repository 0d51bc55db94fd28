package domain

import "errors"

// PlaybackPhase is the state of one download-to-playback session. It is
// ephemeral: phases exist only while a DownloadJob is alive.
type PlaybackPhase string

const (
	PhaseRegistering       PlaybackPhase = "registering"        // engine is being handed the transfer descriptor
	PhaseResolvingMetadata PlaybackPhase = "resolving_metadata" // waiting for the transfer's file list
	PhaseSelectingFile     PlaybackPhase = "selecting_file"     // matching the filename hint, setting priorities
	PhaseBuffering         PlaybackPhase = "buffering"          // retrieval running, gate not yet crossed
	PhasePlaying           PlaybackPhase = "playing"            // external player owns the session
	PhaseCleanup           PlaybackPhase = "cleanup"            // tearing down transfer and buffer file
	PhaseDone              PlaybackPhase = "done"
)

var ErrInvalidTransition = errors.New("invalid playback transition")

// phaseTransitions is the adjacency list of allowed phase changes. Every
// phase may fall through to Cleanup: cancellation and failure are legal at
// any point before Done.
var phaseTransitions = map[PlaybackPhase][]PlaybackPhase{
	PhaseRegistering:       {PhaseResolvingMetadata, PhaseCleanup},
	PhaseResolvingMetadata: {PhaseSelectingFile, PhaseCleanup},
	PhaseSelectingFile:     {PhaseBuffering, PhaseCleanup},
	PhaseBuffering:         {PhasePlaying, PhaseCleanup},
	PhasePlaying:           {PhaseCleanup},
	PhaseCleanup:           {PhaseDone},
	PhaseDone:              nil,
}

// CanTransitionPhase reports whether moving from one phase to another is
// allowed.
func CanTransitionPhase(from, to PlaybackPhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
