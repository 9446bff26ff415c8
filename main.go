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
	"github.com/cenkalti/backoff/v4"
	"github.com/cyverse-de/go-mod/otelutils"
	"github.com/cyverse-de/inquiry-notifier/api"
	"github.com/cyverse-de/inquiry-notifier/config"
	"github.com/cyverse-de/inquiry-notifier/db"
	"github.com/cyverse-de/inquiry-notifier/handlers"
	"github.com/cyverse-de/inquiry-notifier/handlerset"
	"github.com/cyverse-de/inquiry-notifier/hub"
	"github.com/cyverse-de/inquiry-notifier/inquiries"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/memstore"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var log = logging.Log

// commandLineOptionValues represents the values of the command-line options that were passed on the command line when
// this service was invoked.
type commandLineOptionValues struct {
	Config string
}

func parseCommandLine() *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	// Default option values.
	defaultConfigPath := "/etc/iplant/de/inquiry-notifier.yml"

	// Define the command-line options.
	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.Config, "config", defaultConfigPath,
		opt.Alias("c"),
		opt.Description("the path to the configuration file"))

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

// store combines the operations needed by the inquiry service and the hub.
type store interface {
	inquiries.Store
	hub.Store
}

// openStore returns the inquiry store described by the configuration.
func openStore(ctx context.Context, settings *config.Config) (store, func(), error) {
	wrapMsg := "unable to open the inquiry store"

	if settings.DB.Dialect == "memory" {
		log.Warn("inquiries are stored in memory and will be lost when the service stops")
		return memstore.New(), func() {}, nil
	}

	dialect, err := db.ParseDialect(settings.DB.Dialect)
	if err != nil {
		return nil, nil, errors.Wrap(err, wrapMsg)
	}
	sqlDB, err := db.InitDatabase(dialect, settings.DB.URI, settings.DB.Timeout)
	if err != nil {
		return nil, nil, errors.Wrap(err, wrapMsg)
	}
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			log.Errorf("unable to close the database connection: %s", err)
		}
	}

	database := db.New(sqlDB, dialect)
	if settings.DB.Migrate {
		if err := database.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, errors.Wrap(err, wrapMsg)
		}
		log.Info("database schema is up to date")
	}

	return database, closeDB, nil
}

// consumeInquiries creates inquiries from AMQP messages until the context is done. The first connection to the broker
// is retried with a backoff; the AMQP client handles reconnections after that.
func consumeInquiries(ctx context.Context, settings *config.Config, service *inquiries.Service) {
	handlerFor, err := handlers.InitMessageHandlers(service, settings.RoutingKey)
	if err != nil {
		log.Fatal(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	var handlerSet *handlerset.HandlerSet
	connect := func() error {
		var err error
		handlerSet, err = handlerset.New(&settings.AMQP, handlerFor)
		return err
	}
	notify := func(err error, delay time.Duration) {
		log.Errorf("unable to connect to the AMQP broker, retrying in %s: %s", delay, err)
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		if ctx.Err() == nil {
			log.Errorf("giving up on the AMQP consumer: %s", err)
		}
		return
	}
	defer handlerSet.Close()

	handlerSet.Listen(ctx)
}

func main() {
	// Parse the command-line.
	optionValues := parseCommandLine()

	// Load environment variables from a .env file if there is one.
	_ = godotenv.Load()

	// Read in the configuration file.
	cfg, settings, err := config.Load(optionValues.Config)
	if err != nil {
		log.Fatal(err)
	}

	// Initialize logging.
	if err := logging.SetupLogging(settings.LogLevel, settings.LogFormat); err != nil {
		log.Fatal(err)
	}
	config.WatchLogLevel(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize tracing.
	shutdown := otelutils.TracerProviderFromEnv(ctx, logging.ServiceName, func(e error) { log.Fatal(e) })
	defer shutdown()

	inquiryStore, closeStore, err := openStore(ctx, settings)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	notificationHub := hub.New(inquiryStore, hub.Options{
		SendBuffer:   settings.Hub.SendBuffer,
		PingInterval: settings.Hub.PingInterval,
		WriteTimeout: settings.Hub.WriteTimeout,
	})
	service := inquiries.NewService(inquiryStore, notificationHub)

	// Inquiries written to the database by other processes are picked up by polling.
	go notificationHub.Watch(ctx, settings.Hub.PollInterval)

	if settings.AMQPEnabled {
		go consumeInquiries(ctx, settings, service)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           api.New(service, notificationHub).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infof("listening on port %d", settings.Port)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("the HTTP server stopped: %s", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Push connections are hijacked, so they're closed by the hub rather than by the server.
	notificationHub.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("unable to shut down the HTTP server cleanly: %s", err)
	}
}
