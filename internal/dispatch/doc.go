// Package dispatch routes inbound device commands to the scheduler and
// device registry, and owns the outbound status fanout.
//
// Commands arrive as envelopes derived from the bus topic scheme
// {namespace}/{deviceId}/{section}/{action}, built either by the MQTT
// consumer (BindConsumer) or programmatically by the HTTP API. Both
// surfaces run the same validation and handler code.
//
// Every command yields exactly one terminal publication: scene
// transitions are announced by the scheduler, non-transition commands
// are confirmed here with a retained scene-state publication, and
// failures become structured error publications. Dropping a stale
// animation-frame continuation is the single intentional silent outcome.
package dispatch
