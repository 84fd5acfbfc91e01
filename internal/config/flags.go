package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// boundedValue is a counted integer flag that never fails to parse: a
// malformed or out-of-range literal resets the target to def and records a
// warning.
type boundedValue struct {
	opts     *Options
	target   *int
	min, max int
	def      int
	warning  func(int) string
	count    int
}

func (v *boundedValue) String() string {
	if v.target == nil {
		return ""
	}
	if *v.target == PriorityUnset {
		return "unset"
	}
	return strconv.Itoa(*v.target)
}

func (v *boundedValue) Set(s string) error {
	v.count++
	n, err := strconv.Atoi(s)
	if err != nil {
		n = v.min - 1
	}
	*v.target = v.opts.bounded(n, v.min, v.max, v.def, v.warning)
	return nil
}

func (v *boundedValue) Type() string { return "int" }

// selectorValue records a device selector and how many times one was given.
type selectorValue struct {
	index *int
	name  *string
	count *int
}

func (v *selectorValue) String() string {
	switch {
	case v.name != nil:
		return *v.name
	case v.index != nil && *v.index >= 0:
		return strconv.Itoa(*v.index)
	}
	return ""
}

func (v *selectorValue) Set(s string) error {
	if v.index != nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid device number %q", s)
		}
		*v.index = n
	} else {
		*v.name = s
	}
	*v.count++
	return nil
}

func (v *selectorValue) Type() string {
	if v.index != nil {
		return "int"
	}
	return "string"
}

type flagSet struct {
	*pflag.FlagSet
	blocks, priority *boundedValue
	byIndex, byName  int
}

func newFlagSet(name string, o *Options) *flagSet {
	fs := &flagSet{FlagSet: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	fs.SortFlags = false
	fs.SetOutput(io.Discard)

	fs.blocks = &boundedValue{opts: o, target: &o.Blocks, min: MinBlocks, max: MaxBlocks, def: DefaultBlocks, warning: blocksWarning}
	fs.priority = &boundedValue{opts: o, target: &o.Priority, min: MinPriority, max: MaxPriority, def: PriorityUnset, warning: priorityWarning}
	quality := &boundedValue{opts: o, target: &o.Quality, min: MinQuality, max: MaxQuality, def: DefaultQuality, warning: qualityWarning}

	fs.VarP(&selectorValue{index: &o.DeviceIndex, count: &fs.byIndex}, "use-device-number", "n", "use the device with this enumeration number")
	fs.VarP(&selectorValue{name: &o.DeviceName, count: &fs.byName}, "use-device", "d", "use the device with this name")
	fs.VarP(quality, "resampling-quality", "q", fmt.Sprintf("resampling quality [%d..%d]", MinQuality, MaxQuality))
	fs.VarP(fs.blocks, "transfer-blocks", "b", fmt.Sprintf("blocks per USB transfer [%d..%d]", MinBlocks, MaxBlocks))
	fs.VarP(fs.priority, "rt-priority", "p", fmt.Sprintf("real-time thread priority [%d..%d]", MinPriority, MaxPriority))
	fs.BoolVarP(&o.ListDevices, "list-devices", "l", false, "list the available devices and exit")
	fs.CountVarP(&o.Verbosity, "verbose", "v", "increase verbosity (repeatable)")
	fs.BoolVarP(&o.Help, "help", "h", false, "print this help and exit")

	return fs
}

// Parse applies the command-line arguments on top of base and validates the
// result. base is usually Defaults(file) and is modified in place.
//
// A returned Options with Help set must be honoured before anything else. Help
// also wins over an unknown option that follows it.
// Errors wrap ErrUsage, ErrUndeterminedBlocks, ErrUndeterminedPriority or
// ErrConflictingSelection, and are always detected before any device is
// touched.
func Parse(args []string, base *Options) (*Options, error) {
	o := base
	if o == nil {
		o = Defaults(nil)
	}

	fs := newFlagSet("obridge", o)
	if err := fs.Parse(args); err != nil {
		// Options are read in order, so a help request seen before the
		// error is still honoured.
		if o.Help {
			return o, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if o.Help {
		return o, nil
	}

	for _, arg := range fs.Args() {
		o.warn("Ignoring argument %q...", arg)
	}

	if fs.blocks.count > 1 {
		return nil, ErrUndeterminedBlocks
	}
	if fs.priority.count > 1 {
		return nil, ErrUndeterminedPriority
	}

	switch fs.byIndex + fs.byName {
	case 0:
		o.Selection = SelectAll
	case 1:
		if fs.byIndex == 1 {
			o.Selection = SelectByIndex
		} else {
			o.Selection = SelectByName
		}
	default:
		return nil, ErrConflictingSelection
	}

	return o, nil
}

// Usage returns the help text for the program called name.
func Usage(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s [options]\n\nOptions:\n", name)
	b.WriteString(newFlagSet(name, Defaults(nil)).FlagUsages())
	return b.String()
}
