// Command collector runs the cross-exchange market-data collector: one
// Venue Session per configured venue, the fan-in pipeline, the order-book
// engine, and the Opportunity Detector, wired together and run until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/xarbfeed/internal/config"
	"github.com/sawpanic/xarbfeed/internal/logging"
)

const (
	appName = "xarbfeed"
	version = "v0.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cross-exchange perpetual-futures market-data collector",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the deployment configuration file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print each venue's last-known health record and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthCheck(cmd.Context(), configPath)
		},
	}
	rootCmd.AddCommand(healthCmd)

	var txVenue, txType, txInfo string
	sendTxCmd := &cobra.Command{
		Use:   "send-tx-batch",
		Short: "Send a single signed transaction through a Family B venue's jsonapi/sendtxbatch and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendTxBatch(cmd.Context(), configPath, txVenue, txType, txInfo)
		},
	}
	sendTxCmd.Flags().StringVar(&txVenue, "venue", "", "configured venue name (must be Family B)")
	sendTxCmd.Flags().StringVar(&txType, "tx-type", "", "transaction type")
	sendTxCmd.Flags().StringVar(&txInfo, "tx-info", "", "signed transaction payload")
	rootCmd.AddCommand(sendTxCmd)

	var orderVenue, orderID string
	orderStatusCmd := &cobra.Command{
		Use:   "order-status",
		Short: "Resolve an order by order-id or client-id from a venue session's cache (spec P7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrderStatus(cmd.Context(), configPath, orderVenue, orderID)
		},
	}
	orderStatusCmd.Flags().StringVar(&orderVenue, "venue", "", "configured venue name")
	orderStatusCmd.Flags().StringVar(&orderID, "id", "", "order id or client id")
	rootCmd.AddCommand(orderStatusCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log := logging.New(logging.Config{Pretty: true})
		log.Fatal().Err(err).Msg("collector: fatal")
	}
}

func runCollector(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	app, err := newApplication(cfg, log)
	if err != nil {
		return err
	}

	log.Info().Int("venues", len(cfg.Venues)).Msg("collector: starting")
	return app.Run(ctx)
}

func runSendTxBatch(ctx context.Context, configPath, venueName, txType, txInfo string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Pretty: true})

	app, err := newApplication(cfg, log)
	if err != nil {
		return err
	}

	batcher, ok := app.txBatchers[venueName]
	if !ok {
		return fmt.Errorf("send-tx-batch: venue %q is not a configured Family B venue", venueName)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	app.connectAll(connectCtx)
	defer app.disconnectAll()

	resp, err := batcher.Send(ctx, []string{txType}, []string{txInfo}, "", 10)
	if err != nil {
		return err
	}
	log.Info().Str("response_id", resp.ID).Msg("send-tx-batch: response received")
	return nil
}

func runOrderStatus(ctx context.Context, configPath, venueName, orderID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Pretty: true})

	app, err := newApplication(cfg, log)
	if err != nil {
		return err
	}

	sess, ok := app.sessions[venueName]
	if !ok {
		return fmt.Errorf("order-status: venue %q is not configured", venueName)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	app.connectAll(connectCtx)
	defer app.disconnectAll()

	order, ok := sess.Order(orderID)
	if !ok {
		return fmt.Errorf("order-status: no cached state for order %q on venue %q", orderID, venueName)
	}
	log.Info().
		Str("order_id", order.OrderID).
		Str("client_id", order.ClientID).
		Str("status", string(order.Status)).
		Float64("filled", order.Filled).
		Float64("remaining", order.Remaining).
		Msg("order-status: resolved from cache")
	return nil
}

func runHealthCheck(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Pretty: true})

	app, err := newApplication(cfg, log)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	app.connectAll(connectCtx)
	defer app.disconnectAll()

	time.Sleep(2 * time.Second)
	for _, rec := range app.health.Snapshot() {
		log.Info().
			Str("venue", rec.Venue).
			Str("status", string(rec.Status)).
			Int("reconnects", rec.ReconnectCount).
			Float64("last_business_message_ago_seconds", rec.LastBusinessMessageAgoSecs).
			Msg("collector: health")
	}
	return nil
}
