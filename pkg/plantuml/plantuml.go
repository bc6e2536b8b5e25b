// Package plantuml renders machine snapshots as PlantUML state diagrams.
package plantuml

import (
	"fmt"
	"io"
	"strings"

	"github.com/stateforward/fsm.go"
)

// idFromName turns a state or machine name into a PlantUML identifier.
func idFromName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

func title(snapshot fsm.Snapshot) string {
	if snapshot.Name == "" {
		return idFromName(snapshot.Owner)
	}
	return idFromName(snapshot.Owner + "." + snapshot.Name)
}

func generateState(builder *strings.Builder, depth int, name string, snapshot fsm.Snapshot) {
	indent := strings.Repeat(" ", depth*2)
	id := idFromName(name)
	if name != snapshot.State {
		fmt.Fprintf(builder, "%sstate %s\n", indent, id)
		return
	}
	fmt.Fprintf(builder, "%sstate %s <<current>>\n", indent, id)
	fmt.Fprintf(builder, "%sstate %s: time %s\n", indent, id, snapshot.StateTime)
}

func generateTransition(builder *strings.Builder, depth int, transition fsm.TransitionDetail) {
	indent := strings.Repeat(" ", depth*2)
	fmt.Fprintf(builder, "%s%s ----> %s : %d\n", indent, idFromName(transition.Source), idFromName(transition.Target), transition.Count)
}

func generateElements(builder *strings.Builder, depth int, snapshot fsm.Snapshot) {
	fmt.Fprintf(builder, "@startuml %s\n", title(snapshot))
	for _, state := range snapshot.States {
		generateState(builder, depth+1, state, snapshot)
	}
	if snapshot.Initial != "" {
		fmt.Fprintf(builder, "%s[*] --> %s\n", strings.Repeat(" ", depth*2), idFromName(snapshot.Initial))
	}
	for _, transition := range snapshot.Transitions {
		generateTransition(builder, depth, transition)
	}
	fmt.Fprintln(builder, "@enduml")
}

// Generate writes a state diagram of snapshot to writer. The current state is
// tagged <<current>> and each observed transition is labelled with the number
// of times it was taken.
func Generate(writer io.Writer, snapshot fsm.Snapshot) error {
	var builder strings.Builder
	generateElements(&builder, 0, snapshot)
	_, err := io.WriteString(writer, builder.String())
	return err
}

// GenerateAll writes one diagram per snapshot, in order.
func GenerateAll(writer io.Writer, snapshots []fsm.Snapshot) error {
	for _, snapshot := range snapshots {
		if err := Generate(writer, snapshot); err != nil {
			return err
		}
	}
	return nil
}
