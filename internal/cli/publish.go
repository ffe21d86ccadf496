package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/shopmesh/internal/runtime/events"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
)

func newPublishCommand(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "publish <kind> <json>",
		Short: "Broadcast one event on the bus",
		Example: `  shopmesh publish order.created '{"user_id": 7}'
  shopmesh publish --source order-service order.created '{"user_id": 7}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := events.Kind(args[0])
			data := json.RawMessage(args[1])
			if err := checkPayload(kind, data); err != nil {
				return err
			}

			svc, err := a.newService(cmd.Context(), "shopmesh-cli")
			if err != nil {
				return err
			}
			defer svc.Close()

			if source == "" {
				source = svc.Publisher().Source()
			}
			env, err := events.NewRaw(kind, data, events.WithSource(source))
			if err != nil {
				return err
			}
			if err := svc.Publisher().Publish(cmd.Context(), env); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s %s\n", env.Kind(), env.ID())
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source service stamped on the envelope (default: the service name)")
	return cmd
}

// checkPayload rejects bodies every consumer would drop as malformed: invalid
// JSON, and for kinds with a Go type, bodies that fail to decode or validate.
func checkPayload(kind events.Kind, data json.RawMessage) error {
	if kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if !jsoncodec.Valid(data) {
		return fmt.Errorf("invalid %s payload: not valid JSON", kind)
	}
	p, ok := knownPayload(kind)
	if !ok {
		return nil
	}
	if err := jsoncodec.Unmarshal(data, p); err != nil {
		return fmt.Errorf("invalid %s payload: %w", kind, err)
	}
	if v, ok := p.(events.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid %s payload: %w", kind, err)
		}
	}
	return nil
}

func knownPayload(kind events.Kind) (events.Payload, bool) {
	switch kind {
	case events.KindOrderCreated:
		return &events.OrderCreated{}, true
	}
	return nil, false
}
