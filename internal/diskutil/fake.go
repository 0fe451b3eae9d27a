package diskutil

import "context"

// FakeRunner records invocations and returns a scripted result, used by
// tests that exercise RunDiskpart/RunFat32Format without a real shell.
type FakeRunner struct {
	Err     error
	Output  string
	Calls   []FakeCall
}

type FakeCall struct {
	Stdin string
	Name  string
	Args  []string
}

func (f *FakeRunner) Run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	f.Calls = append(f.Calls, FakeCall{Stdin: stdin, Name: name, Args: append([]string(nil), args...)})
	return f.Output, f.Err
}
