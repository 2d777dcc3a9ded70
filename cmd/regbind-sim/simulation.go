package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/regbind/regbind-go/pkg/register"
	"github.com/regbind/regbind-go/pkg/sim"
)

// lookupRegister resolves "NAME" or "group.NAME".
func lookupRegister(st *register.SymbolTable, ref string) (*register.Register, error) {
	name := ref
	group := ""
	if g, n, ok := strings.Cut(ref, "."); ok {
		group, name = g, n
	}
	reg, ok := st.Lookup(name)
	if !ok || (group != "" && reg.Group != group) {
		return nil, fmt.Errorf("unknown register %q", ref)
	}
	return reg, nil
}

// runTicker increments reg on every core once per interval, from the target
// side, so that polling consoles see values move.
func runTicker(ctx context.Context, mem *sim.Memory, reg *register.Register, interval time.Duration, logger *slog.Logger) {
	logger.Info("ticking register", "register", reg.String(), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for core := range mem.Cores() {
				v, err := mem.Peek(reg.Group, reg.Addr, core)
				if err != nil {
					logger.Warn("tick failed", "register", reg.String(), "error", err)
					return
				}
				_ = mem.Poke(reg.Group, reg.Addr, core, v+1)
			}
		}
	}
}
