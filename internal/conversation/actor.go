// ABOUTME: Actor identifies who performs a conversation operation
// ABOUTME: Resolved by the transport layer and passed in, never re-derived here

package conversation

// ActorKind distinguishes agents from internal callers.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorSystem ActorKind = "system"
)

// Actor is the already-authenticated caller of a lifecycle operation.
type Actor struct {
	ID    string
	Name  string
	Kind  ActorKind
	Admin bool
}

// AgentActor returns an agent actor.
func AgentActor(id string) Actor {
	return Actor{ID: id, Kind: ActorAgent}
}

// SystemActor is used for operations triggered by the core itself.
func SystemActor() Actor {
	return Actor{ID: "system", Name: "system", Kind: ActorSystem}
}

func (a Actor) label() string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return "system"
}
