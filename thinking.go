package photopath

import (
	"context"
	"time"
)

// thinkingInterval is how often the progress indicator advances.
const thinkingInterval = 2 * time.Second

// ThinkingState is one progress step shown while an analysis is in flight.
type ThinkingState struct {
	Index int    // 0-based stage; stays at the last stage once reached
	Main  string // headline
	Sub   string // detail line
	Tip   string // rotating photography tip
}

// ThinkingStages are shown in order, one per interval.
var ThinkingStages = []struct{ Main, Sub string }{
	{"Looking at the photo...", "Forming a first impression"},
	{"Studying the composition", "Mapping how the elements are arranged"},
	{"The light is interesting...", "Reading contrast and atmosphere"},
	{"What is this picture saying?", "Exploring story and emotion"},
	{"Organizing my thoughts", "Combining technique with feeling"},
	{"Almost there, choosing words", "Keeping the feedback honest and useful"},
}

// PhotoTips rotate alongside the stages.
var PhotoTips = []string{
	"Try the rule of thirds: put the subject on an intersection.",
	"Golden hour light is the softest; shoot portraits early or late.",
	"Negative space makes the subject stand out.",
	"Use leading lines such as roads or fences to guide the eye.",
	"Change your angle: go low or go high for a fresh view.",
	"Look for natural frames like windows or branches to add depth.",
	"Watch the background; a clean one usually reads better.",
	"Switch to manual focus when the light gets tricky.",
	"Shadows often carry more mood than highlights.",
	"Wait for the decisive moment when gaze, gesture and light meet.",
}

func thinkingState(i int) ThinkingState {
	i = min(i, len(ThinkingStages)-1)
	return ThinkingState{
		Index: i,
		Main:  ThinkingStages[i].Main,
		Sub:   ThinkingStages[i].Sub,
		Tip:   PhotoTips[i%len(PhotoTips)],
	}
}

// startThinking reports stage 0 immediately, then advances one stage per
// interval until the returned stop function is called. stop waits for the
// ticker goroutine to exit, so no state is reported after it returns.
// A nil report yields a no-op.
func startThinking(ctx context.Context, interval time.Duration, report func(ThinkingState)) (stop func()) {
	if report == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	report(thinkingState(0))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				i++
				report(thinkingState(i))
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
