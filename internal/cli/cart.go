package cli

import (
	"github.com/spf13/cobra"

	"github.com/drblury/shopmesh/internal/cart"
	"github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/logging"
)

func newCartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "Run the cart service",
		Long: `Runs the cart service: the /api/cart/ API behind the edge chain and
the supervised event listener that empties a user's cart on order.created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.newService(ctx, config.CartService)
			if err != nil {
				return err
			}
			defer svc.Close()

			store, err := cart.OpenStore(ctx, svc.Conf)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := cart.RegisterHandlers(svc.Handlers(), store); err != nil {
				return err
			}
			api, err := svc.Edge(cart.NewHTTPHandler(store, svc.Logger))
			if err != nil {
				return err
			}
			svc.RegisterHTTPHandler("", cart.PathPrefix, api)

			svc.Logger.Info("Cart service event listener started", logging.LogFields{
				"store": svc.Conf.CartStore,
				"topic": svc.Conf.EventChannel,
			})
			return svc.Start(ctx)
		},
	}
}
