// Package interaction implements the register protocol between a console
// and a probe server.
//
// The protocol has four operations:
//
//   - Read: one register
//   - ReadMulti: Count consecutive registers in one round trip
//   - Write: one register
//   - Info: target identity and multi-read capability
//
// # Server Usage
//
// The Server answers requests from a Backend, usually a sim.Memory:
//
//	mem := sim.New(symbols, sim.Config{})
//	srv := interaction.NewServer(interaction.ServerConfig{Backend: mem})
//	ts := transport.NewServer(transport.ServerConfig{OnMessage: srv.OnMessage})
//
// # Client Usage
//
// The Client implements register.Reader, register.MultiReader and
// register.Writer over one connection, so it can sit under a
// register.Batcher directly:
//
//	client, err := interaction.Dial(ctx, "probe.local:7450", interaction.DefaultConfig())
//	batcher := register.NewBatcher(client, register.DefaultBatcherConfig())
//
// Requests are correlated by message ID; a request that gets no answer
// within the configured timeout fails with ErrRequestTimeout. Failed
// responses surface as *StatusError.
package interaction
