package memwatch_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jooya/radarcrawl/internal/memwatch"
)

// TestMemoryWatcherBasicCheck verifies that Check returns valid memory
// statistics and normal throttle level with a reasonable memory limit.
func TestMemoryWatcherBasicCheck(t *testing.T) {
	mw := memwatch.NewMemoryWatcher(1024, zerolog.Nop())

	usedPercent, level := mw.Check()

	if usedPercent < 0 || usedPercent > 100 {
		t.Errorf("usedPercent = %f, want between 0 and 100", usedPercent)
	}

	if level != memwatch.ThrottleNormal {
		t.Errorf("level = %v, want ThrottleNormal", level)
	}
}

// TestMemoryWatcherThrottleLevels verifies that small memory limits trigger
// warning or critical throttle levels.
func TestMemoryWatcherThrottleLevels(t *testing.T) {
	mw := memwatch.NewMemoryWatcher(1, zerolog.Nop()) // 1MB limit

	_, level := mw.Check()

	if level == memwatch.ThrottleNormal {
		t.Error("expected throttle level > ThrottleNormal with 1MB limit")
	}
}

// TestMemoryWatcherCallback verifies that registering a callback with
// SetThrottleCallback and then calling Check does not panic. With a 1 GiB
// limit the level normally stays ThrottleNormal, so whether the callback
// fires is not checked.
func TestMemoryWatcherCallback(t *testing.T) {
	mw := memwatch.NewMemoryWatcher(1024, zerolog.Nop())

	callbackCalled := false
	mw.SetThrottleCallback(func(level memwatch.ThrottleLevel) {
		callbackCalled = true
	})

	mw.Check()
	_ = callbackCalled
}

// TestMemoryWatcherMultipleChecks verifies that repeated sequential Check
// calls do not panic.
func TestMemoryWatcherMultipleChecks(t *testing.T) {
	mw := memwatch.NewMemoryWatcher(1024, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_, level := mw.Check()
		_ = level
	}
}

// TestMemoryWatcherSetLimit verifies that Check can be called before and
// after SetLimit without panicking; the results are not compared.
func TestMemoryWatcherSetLimit(t *testing.T) {
	mw := memwatch.NewMemoryWatcher(1024, zerolog.Nop())

	_, level1 := mw.Check()

	mw.SetLimit(2 * 1024 * 1024 * 1024)

	usedPercent, level2 := mw.Check()

	_ = usedPercent
	_ = level1
	_ = level2
}

// TestThrottleLevel_String verifies the log-friendly rendering used when a
// throttle transition is reported.
func TestThrottleLevel_String(t *testing.T) {
	cases := map[memwatch.ThrottleLevel]string{
		memwatch.ThrottleNormal:   "normal",
		memwatch.ThrottleWarning:  "warning",
		memwatch.ThrottleCritical: "critical",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("ThrottleLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}
