package call

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestRunStepsCompensatesInReverse(t *testing.T) {
	var trail []string
	mk := func(id StepID, fail bool) step {
		return funcStep{
			id: id,
			execute: func(ctx context.Context, s *startup) error {
				trail = append(trail, "run:"+string(id))
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			compensate: func(s *startup) {
				trail = append(trail, "undo:"+string(id))
			},
		}
	}

	steps := []step{mk("a", false), mk("b", false), mk("c", true), mk("d", false)}
	err := runSteps(context.Background(), zaptest.NewLogger(t), steps, &startup{})
	if err == nil {
		t.Fatal("Expected the failing step's error")
	}

	want := []string{"run:a", "run:b", "run:c", "undo:b", "undo:a"}
	if !reflect.DeepEqual(trail, want) {
		t.Errorf("Expected %v, got %v", want, trail)
	}
}

func TestRunStepsStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	steps := []step{
		funcStep{id: "first", execute: func(ctx context.Context, s *startup) error {
			ran++
			cancel()
			return nil
		}},
		funcStep{id: "second", execute: func(ctx context.Context, s *startup) error {
			ran++
			return nil
		}},
	}

	err := runSteps(ctx, zaptest.NewLogger(t), steps, &startup{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if ran != 1 {
		t.Errorf("Expected the second step to be skipped, ran %d", ran)
	}
}
