package cli

import "time"

// StringFlag is a flag parsed as a string. Aliases are alternative names
// accepted on the command line, such as a single letter.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Aliases  []string
	Usage    string
	Required bool
	Value    string
}

// Flag implements cli.Flag.
func (flag StringFlag) Flag() {}

// StringSliceFlag is a flag that can be repeated, or given a comma-separated
// list, and is parsed as a slice of strings.
//
// - implements cli.Flag
type StringSliceFlag struct {
	Name     string
	Aliases  []string
	Usage    string
	Required bool
	Value    []string
}

// Flag implements cli.Flag.
func (flag StringSliceFlag) Flag() {}

// DurationFlag is a flag parsed with time.ParseDuration.
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Aliases  []string
	Usage    string
	Required bool
	Value    time.Duration
}

// Flag implements cli.Flag.
func (flag DurationFlag) Flag() {}

// IntFlag is a flag parsed as an integer. Election and candidate identifiers
// use it.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Aliases  []string
	Usage    string
	Required bool
	Value    int
}

// Flag implements cli.Flag.
func (flag IntFlag) Flag() {}

// BoolFlag is a switch. It is true when present on the command line.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Aliases  []string
	Usage    string
	Required bool
	Value    bool
}

// Flag implements cli.Flag.
func (flag BoolFlag) Flag() {}
