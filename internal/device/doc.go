// Package device implements the command pipeline shared by every device.
//
// A Device wraps an Adapter (the hardware-specific collaborator) and runs
// each command through the same steps:
//
//	bus message ──▶ topic → commands ──▶ DecodeParams ──▶ ResolveParams
//	API call ─────────────────────────────────────────────┘      │
//	                                                              ▼
//	        state update + notify ◀── handler ◀── handler lookup
//	                 │
//	                 └──▶ optional BusCommand publish
//
// # Handlers
//
// Handlers come from two places, both fixed when the device is built:
//
//   - Explicit: the map returned by an adapter's Handlers() method, plus
//     anything added with Device.RegisterHandler.
//   - Convention: every exported adapter method named Handle<Action> with
//     the HandlerFunc signature, registered as handle_<action>.
//
// Lookup is case-insensitive and retries camelCase actions as snake_case.
// Explicit handlers always win.
//
// # State
//
// Each device keeps a State map that only grows: updates are merged, and an
// update that changes nothing notifies nobody. Observers receive only the
// device ID and read the state themselves.
//
// # Registry
//
// The Registry owns the devices, wires them to the bus (one HandleMessage
// entry point per device), and publishes availability and emulation
// metadata.
//
//	reg := device.NewRegistry()
//	reg.SetLogger(log)
//	reg.Add(d)
//	reg.AddObserver(device.NewHistoryObserver(repo, reg, log))
//	reg.WireAll(busClient)
//	reg.Start(ctx)
//
// # Thread Safety
//
// Registry and Device are safe for concurrent use. State updates on one
// device are serialised; different devices never contend.
package device
