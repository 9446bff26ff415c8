// inquiry-watch connects to the inquiry notification service and logs the unread inquiry count whenever it changes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DavidGamba/go-getoptions"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/syncclient"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logging.ForPackage("main")

// commandLineOptionValues represents the values of the command-line options that were passed on the command line when
// this tool was invoked.
type commandLineOptionValues struct {
	BaseURL  string
	Routes   []string
	Token    string
	Timeout  string
	MarkRead []string
	LogLevel string
}

func parseCommandLine() *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	// Define the command-line options.
	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.BaseURL, "base-url", envOr("INQUIRY_API_URL", "http://localhost:8080/api"),
		opt.Alias("u"),
		opt.Description("the base URL of the inquiry API"))
	opt.StringSliceVar(&optionValues.Routes, "route", 1, 1,
		opt.Alias("r"),
		opt.Description("an endpoint=origin pair that sends one endpoint to a different origin"))
	opt.StringVar(&optionValues.Token, "token", os.Getenv("INQUIRY_API_TOKEN"),
		opt.Alias("t"),
		opt.Description("the bearer token to send with every request"))
	opt.StringVar(&optionValues.Timeout, "timeout", syncclient.DefaultTimeout.String(),
		opt.Description("the timeout for a single REST request"))
	opt.StringSliceVar(&optionValues.MarkRead, "mark-read", 1, 1,
		opt.Description("the ID of an inquiry to mark as read after connecting"))
	opt.StringVar(&optionValues.LogLevel, "log-level", "info",
		opt.Description("the minimum level of log messages"))

	// Parse the command line, handling requests for help and usage errors.
	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}

	return optionValues
}

func envOr(name, defaultValue string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return defaultValue
}

// buildRoutes applies the route overrides to the base URL.
func buildRoutes(baseURL string, values []string) (*syncclient.Routes, error) {
	overrides := make(map[syncclient.Endpoint]string, len(values))
	for _, value := range values {
		endpoint, origin, err := syncclient.ParseRouteOverride(value)
		if err != nil {
			return nil, err
		}
		overrides[endpoint] = origin
	}
	return syncclient.NewRoutes(baseURL, overrides)
}

// logStates logs every state published by the client until the channel is closed.
func logStates(states <-chan syncclient.State) {
	for state := range states {
		log.WithFields(logrus.Fields{
			"unreadCount": state.UnreadCount,
			"connection":  state.ConnectionStatus,
			"pending":     len(state.PendingMarkReads),
			"inquiries":   len(state.Inquiries),
		}).Info("notification state changed")
	}
}

func run(ctx context.Context, optionValues *commandLineOptionValues) error {
	timeout, err := time.ParseDuration(optionValues.Timeout)
	if err != nil {
		return errors.Wrapf(err, "invalid timeout: %s", optionValues.Timeout)
	}

	routes, err := buildRoutes(optionValues.BaseURL, optionValues.Routes)
	if err != nil {
		return err
	}
	pushURL, err := routes.PushURL()
	if err != nil {
		return err
	}

	rest := syncclient.NewHTTPClient(
		routes,
		syncclient.NewMemoryTokenStore(optionValues.Token),
		&http.Client{Timeout: timeout},
	)
	client := syncclient.New(rest, syncclient.Options{ReconcileTimeout: timeout})
	defer client.Wait()

	states, unsubscribe := client.Subscribe()
	defer unsubscribe()
	go logStates(states)

	health, err := rest.Health(ctx)
	if err != nil {
		log.Warnf("the health check failed: %s", err)
	} else {
		log.Infof("server status: %s, database: %s", health.Status, health.Database)
	}

	if err := client.Refresh(ctx); err != nil {
		log.Warnf("unable to load the inquiries: %s", err)
	}

	for _, id := range optionValues.MarkRead {
		if err := client.MarkAsRead(ctx, id); err != nil {
			log.Errorf("unable to mark inquiry %s as read: %s", id, err)
		}
	}

	err = client.Run(ctx, syncclient.PushOptions{URL: pushURL, Header: rest.Header()})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	// Environment variables provide option defaults, so the .env file is loaded first.
	_ = godotenv.Load()

	optionValues := parseCommandLine()

	if err := logging.SetupLogging(optionValues.LogLevel, "text"); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, optionValues); err != nil {
		log.Fatal(err)
	}
}
