// Package interactive provides the interactive command-line interface
// for regbind-console.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/regbind/regbind-go/pkg/binding"
	"github.com/regbind/regbind-go/pkg/register"
)

// ErrOperatorHalt is reported to bindings halted with "critical" and no
// message.
var ErrOperatorHalt = errors.New("halted by operator")

// DefaultCommandTimeout bounds commands that wait for the target.
const DefaultCommandTimeout = 5 * time.Second

// Console handles interactive mode for regbind-console.
type Console struct {
	session *Session
	rl      *readline.Instance
	out     io.Writer
	timeout time.Duration
}

// New creates a console on the terminal. Attach a session before Run.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "regbind> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := NewWithWriter(nil, rl.Stdout())
	c.rl = rl
	return c, nil
}

// Attach sets the session the commands operate on.
func (c *Console) Attach(s *Session) {
	c.session = s
}

// NewWithWriter creates a console without a terminal. Commands are run
// with Execute and print to out.
func NewWithWriter(s *Session, out io.Writer) *Console {
	return &Console{session: s, out: out, timeout: DefaultCommandTimeout}
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls", "l":
		err = c.cmdList(args)
	case "read", "r":
		err = c.cmdRead(ctx, args)
	case "write", "w":
		err = c.cmdWrite(ctx, args)
	case "refresh":
		err = c.cmdRefresh(ctx)
	case "core":
		err = c.cmdCore(args)
	case "defer":
		err = c.cmdDefer(args)
	case "commit":
		err = c.cmdCommit(ctx, args)
	case "revert":
		err = c.cmdRevert(args)
	case "fields", "f":
		err = c.cmdFields(args)
	case "critical":
		c.cmdCritical(args)
	case "clear":
		c.cmdClear()
	case "status", "s":
		c.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
regbind Console Commands:
  Registers:
    list [group]             - List bindings with value, state and status
    read <reg>               - Read a register from the target
    write <reg>[.field] <v>  - Write a value (decimal, 0x hex or 0b binary)
    fields <reg>             - Show the bit fields of a register
    refresh                  - Run one polling pass over all bindings

  Target:
    core [n]                 - Show or select the core index

  Deferred Writes:
    defer on|off [reg]       - Enable or disable deferred mode
    commit [reg]             - Write pending local edits
    revert [reg]             - Discard pending local edits

  Halting:
    critical [message]       - Halt all binding I/O
    clear                    - Resume binding I/O

  General:
    status                   - Show link and polling status
    help                     - Show this help
    quit                     - Exit console

  Register names are NAME or group.NAME.`)
}

// selection resolves an optional register argument to bindings.
func (c *Console) selection(args []string) ([]*binding.Binding, error) {
	if len(args) == 0 {
		return c.session.Bindings(), nil
	}
	b, _, err := c.session.Lookup(args[0])
	if err != nil {
		return nil, err
	}
	return []*binding.Binding{b}, nil
}

func (c *Console) cmdList(args []string) error {
	var group string
	if len(args) > 0 {
		group = args[0]
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTER\tADDR\tQUALIFIER\tVALUE\tSTATE\tFLAGS")
	for _, b := range c.session.Bindings() {
		reg := c.session.Register(b)
		if group != "" && reg.Group != group {
			continue
		}
		fmt.Fprintf(tw, "%s\t%#04x\t%s\t%s\t%s\t%s\n",
			reg, reg.Addr, b.Qualifier(), formatValue(b.Value(), reg), b.State(), flags(b))
	}
	return tw.Flush()
}

func flags(b *binding.Binding) string {
	var fs []string
	if b.IsStale() {
		fs = append(fs, "stale")
	}
	if b.DeferredMode() {
		fs = append(fs, "deferred")
	}
	if b.IsDeferredWritePending() {
		fs = append(fs, "pending")
	}
	if err := b.Status(); err != nil {
		fs = append(fs, "error: "+err.Error())
	}
	if len(fs) == 0 {
		return "-"
	}
	return strings.Join(fs, ",")
}

func formatValue(v binding.Value, reg *register.Register) string {
	u, err := register.ToUint64(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	digits := (reg.Size() + 3) / 4
	return fmt.Sprintf("0x%0*x", digits, u)
}

func (c *Console) cmdRead(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: read <reg>")
	}
	b, reg, err := c.session.Lookup(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := b.Refresh(ctx, nil); err != nil {
		return err
	}
	v, _ := register.ToUint64(b.Value())
	fmt.Fprintf(c.out, "%s = %s (%d) core=%d\n", reg, formatValue(v, reg), v, c.session.Core())
	return nil
}

func (c *Console) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <reg>[.field] <value> [force]")
	}
	v, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	force := len(args) > 2 && args[2] == "force"

	progress := binding.NewProgress()
	name := args[0]
	if b, reg, err := c.session.Lookup(name); err == nil {
		if err := b.SetValue(v, progress, force); err != nil {
			return err
		}
		if err := c.wait(ctx, progress); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s <- %s\n", reg, formatValue(v, reg))
		return nil
	}

	regName, fieldName, ok := cutField(name)
	if !ok {
		_, _, err := c.session.Lookup(name)
		return err
	}
	fb, err := c.session.LookupField(regName, fieldName)
	if err != nil {
		return err
	}
	if err := fb.SetValue(v, progress, force); err != nil {
		return err
	}
	if err := c.wait(ctx, progress); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s.%s <- %d\n", regName, fieldName, v)
	return nil
}

// cutField splits "reg.FIELD" or "group.reg.FIELD" at the last dot.
func cutField(name string) (reg, field string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func (c *Console) wait(ctx context.Context, p *binding.Progress) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.Wait(ctx)
}

func (c *Console) cmdRefresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	ops, err := c.session.Poller().Poll(ctx)
	fmt.Fprintf(c.out, "refreshed %d bindings, %d reads in %s\n",
		len(c.session.Bindings()), ops, time.Since(start).Round(time.Millisecond))
	return err
}

func (c *Console) cmdCore(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "core %d of %d\n", c.session.Core(), c.session.Cores())
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid core %q", args[0])
	}
	if err := c.session.SetCore(n); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "core %d selected\n", n)
	return nil
}

func (c *Console) cmdDefer(args []string) error {
	if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: defer on|off [reg]")
	}
	on := args[0] == "on"
	bs, err := c.selection(args[1:])
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range bs {
		if err := b.SetDeferredMode(on, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	fmt.Fprintf(c.out, "deferred mode %s for %d bindings\n", args[0], len(bs)-len(errs))
	return errors.Join(errs...)
}

func (c *Console) cmdCommit(ctx context.Context, args []string) error {
	bs, err := c.selection(args)
	if err != nil {
		return err
	}
	n := 0
	var errs []error
	for _, b := range bs {
		if !b.IsDeferredWritePending() {
			continue
		}
		if err := b.SetDeferredMode(b.DeferredMode(), true); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		n++
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, b := range bs {
		if err := b.Settled(sctx); err != nil {
			errs = append(errs, err)
			break
		}
	}
	fmt.Fprintf(c.out, "committed %d pending writes\n", n)
	return errors.Join(errs...)
}

func (c *Console) cmdRevert(args []string) error {
	bs, err := c.selection(args)
	if err != nil {
		return err
	}
	n := 0
	for _, b := range bs {
		if b.IsDeferredWritePending() {
			b.ClearDeferredWrite()
			n++
		}
	}
	fmt.Fprintf(c.out, "reverted %d pending writes\n", n)
	return nil
}

func (c *Console) cmdFields(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: fields <reg>")
	}
	b, reg, err := c.session.Lookup(args[0])
	if err != nil {
		return err
	}
	fbs := c.session.Fields(b)
	if len(fbs) == 0 {
		fmt.Fprintf(c.out, "%s has no fields\n", reg)
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tBITS\tVALUE")
	for _, fb := range fbs {
		f := fb.Field()
		bits := strconv.Itoa(f.Start)
		if f.Width > 1 {
			bits = fmt.Sprintf("%d:%d", f.Start+f.Width-1, f.Start)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", f.Name, bits, fb.Value())
	}
	return tw.Flush()
}

func (c *Console) cmdCritical(args []string) {
	cause := ErrOperatorHalt
	if len(args) > 0 {
		cause = errors.New(strings.Join(args, " "))
	}
	bs := c.session.Bindings()
	for _, b := range bs {
		b.ReportCriticalError(cause)
	}
	fmt.Fprintf(c.out, "halted %d bindings: %v\n", len(bs), cause)
}

func (c *Console) cmdClear() {
	bs := c.session.Bindings()
	for _, b := range bs {
		b.ReportCriticalError(nil)
	}
	fmt.Fprintf(c.out, "resumed %d bindings\n", len(bs))
}

func (c *Console) cmdStatus() {
	info := c.session.Info()
	stats := c.session.Poller().Stats()

	var stale, pending, failing int
	for _, b := range c.session.Bindings() {
		if b.IsStale() {
			stale++
		}
		if b.IsDeferredWritePending() {
			pending++
		}
		if b.Status() != nil {
			failing++
		}
	}

	fmt.Fprintf(c.out, "Target:   %s at %s (%d cores)\n", info.Name, c.session.Address(), info.Cores)
	fmt.Fprintf(c.out, "Link:     %s\n", c.session.LinkState())
	if err := c.session.Halted(); err != nil {
		fmt.Fprintf(c.out, "Halted:   %v\n", err)
	}
	fmt.Fprintf(c.out, "Core:     %d\n", c.session.Core())
	fmt.Fprintf(c.out, "Bindings: %d (%d stale, %d pending, %d failing)\n",
		len(c.session.Bindings()), stale, pending, failing)
	fmt.Fprintf(c.out, "Polling:  %d passes, %d reads, %d failures", stats.Passes, stats.Operations, stats.Failures)
	if !stats.LastPass.IsZero() {
		fmt.Fprintf(c.out, ", last %s ago", time.Since(stats.LastPass).Round(time.Millisecond))
	}
	fmt.Fprintln(c.out)
}
