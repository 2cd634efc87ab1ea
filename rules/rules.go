//go:build ruleguard

// Package gorules contains ruleguard checks run by golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WrapVerb flags errors formatted with %v. The chain is lost and
// errors.Is stops matching sentinels such as ErrLockTimeout.
//
// Flagged:
//
//	fmt.Errorf("open device: %v", err)
//
// Preferred:
//
//	fmt.Errorf("open device: %w", err)
func WrapVerb(m dsl.Matcher) {
	m.Match(`fmt.Errorf($f, $err)`).
		Where(m["f"].Text.Matches(`%v`) && m["err"].Type.Implements("error")).
		Report("wrap errors with %w so sentinel checks keep working")
}

// StructuredLogging flags the standard log package outside main.
func StructuredLogging(m dsl.Matcher) {
	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
	).
		Where(m.File().Imports("log") && m.File().PkgPath.Matches(`chairside/internal/`)).
		Report("use the module logger from internal/logger instead of the log package")
}

// TestingContext flags context.Background() assigned in tests. Use
// t.Context() so goroutines see the test end.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx := context.TODO()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead of a background context")
}

// WaitGroupGo flags the Add/Done pattern that wg.Go replaces.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done").
		Suggest("$wg.Go(func() { $body })")
}
