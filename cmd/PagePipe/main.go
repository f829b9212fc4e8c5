// Command PagePipe runs the Messenger shop assistant: the webhook server, the
// templated flows and the LLM cashier.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/PagePipe/internal/api"
	"github.com/BTreeMap/PagePipe/internal/conversation"
	"github.com/BTreeMap/PagePipe/internal/flow"
	"github.com/BTreeMap/PagePipe/internal/genai"
	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/i18n"
	"github.com/BTreeMap/PagePipe/internal/lockfile"
	"github.com/BTreeMap/PagePipe/internal/logging"
	"github.com/BTreeMap/PagePipe/internal/messaging"
	"github.com/BTreeMap/PagePipe/internal/metrics"
	"github.com/BTreeMap/PagePipe/internal/notify"
	"github.com/BTreeMap/PagePipe/internal/store"
	"github.com/BTreeMap/PagePipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PagePipe state data
	DefaultStateDir = "/var/lib/pagepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pagepipe.db"
	// DefaultGraphAPIURL is the Graph API host
	DefaultGraphAPIURL = "https://graph.facebook.com"
	// DefaultGraphAPIVersion is the Graph API version used when none is configured
	DefaultGraphAPIVersion = "v19.0"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if _, err := logging.Init(buildLoggingConfig(flags)); err != nil {
		slog.Warn("Log file unavailable, logging to stdout", "error", err)
	}

	if *flags.linkQR != "" {
		if err := printLinkQR(os.Stdout, *flags.pageID, *flags.linkQR); err != nil {
			slog.Error("Failed to print m.me link", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}
	lock, err := lockfile.Acquire(*flags.stateDir, lockfile.Owner{PageID: *flags.pageID, Addr: *flags.apiAddr})
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping PagePipe", "page_id", *flags.pageID, "api_addr", *flags.apiAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("PagePipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("PagePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	PageID          string
	PageName        string
	PageAccessToken string
	AppID           string
	AppSecret       string
	VerifyToken     string
	AppURL          string
	ShopName        string
	ShopURL         string
	AgentName       string
	Timezone        string

	GraphAPIURL     string
	GraphAPIVersion string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	APIAddr     string
	StateDir    string
	DatabaseURL string

	LogFile   string
	LogLevel  string
	LogFormat string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	OrderNotifyTo    string

	MessageInterval time.Duration
	OptinDelay      time.Duration
	Annotate        bool
}

// Flags holds command line flag values
type Flags struct {
	pageID          *string
	pageName        *string
	pageToken       *string
	appID           *string
	appSecret       *string
	verifyToken     *string
	appURL          *string
	shopName        *string
	shopURL         *string
	agentName       *string
	timezone        *string
	graphURL        *string
	graphVersion    *string
	openaiKey       *string
	openaiBaseURL   *string
	openaiModel     *string
	apiAddr         *string
	stateDir        *string
	dbDSN           *string
	logFile         *string
	logLevel        *string
	logFormat       *string
	twilioSID       *string
	twilioToken     *string
	twilioFrom      *string
	notifyTo        *string
	messageInterval *time.Duration
	optinDelay      *time.Duration
	annotate        *bool
	linkQR          *string
}

// initializeLogger sets up structured logging until the configured logger is installed
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		PageID:           os.Getenv("PAGE_ID"),
		PageName:         os.Getenv("PAGE_NAME"),
		PageAccessToken:  os.Getenv("PAGE_ACCESS_TOKEN"),
		AppID:            os.Getenv("APP_ID"),
		AppSecret:        os.Getenv("APP_SECRET"),
		VerifyToken:      os.Getenv("VERIFY_TOKEN"),
		AppURL:           os.Getenv("APP_URL"),
		ShopName:         os.Getenv("SHOP_NAME"),
		ShopURL:          os.Getenv("SHOP_URL"),
		AgentName:        os.Getenv("AGENT_NAME"),
		Timezone:         os.Getenv("TIMEZONE"),
		GraphAPIURL:      util.GetEnvOrDefault("GRAPH_API_URL", DefaultGraphAPIURL),
		GraphAPIVersion:  util.GetEnvOrDefault("GRAPH_API_VERSION", DefaultGraphAPIVersion),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:      util.GetEnvOrDefault("OPENAI_MODEL", genai.DefaultModel),
		APIAddr:          os.Getenv("API_ADDR"),
		StateDir:         os.Getenv("PAGEPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogFile:          os.Getenv("LOG_FILE"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		OrderNotifyTo:    os.Getenv("ORDER_NOTIFY_TO"),
		MessageInterval:  util.ParseDurationEnv("MESSAGE_INTERVAL", messaging.DefaultMessageInterval),
		OptinDelay:       util.ParseDurationEnv("OPTIN_DELAY", messaging.DefaultOptinDelay),
		Annotate:         util.ParseBoolEnv("ANNOTATE_TRANSCRIPT", true),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PAGEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}
	if config.ShopName == "" {
		config.ShopName = config.PageName
	}

	// Without a database URL, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"PAGE_ID", config.PageID,
		"APP_ID", config.AppID,
		"PAGE_ACCESS_TOKEN_SET", config.PageAccessToken != "",
		"APP_SECRET_SET", config.AppSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"PAGEPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"TWILIO_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("PagePipe", flag.ContinueOnError)
	flags := Flags{
		pageID:          fs.String("page-id", config.PageID, "Facebook page id (overrides $PAGE_ID)"),
		pageName:        fs.String("page-name", config.PageName, "page name used to recognize the page's own messages (overrides $PAGE_NAME)"),
		pageToken:       fs.String("page-access-token", config.PageAccessToken, "page access token (overrides $PAGE_ACCESS_TOKEN)"),
		appID:           fs.String("app-id", config.AppID, "Messenger app id (overrides $APP_ID)"),
		appSecret:       fs.String("app-secret", config.AppSecret, "app secret for webhook signatures (overrides $APP_SECRET)"),
		verifyToken:     fs.String("verify-token", config.VerifyToken, "webhook verify token (overrides $VERIFY_TOKEN)"),
		appURL:          fs.String("app-url", config.AppURL, "public URL of this server (overrides $APP_URL)"),
		shopName:        fs.String("shop-name", config.ShopName, "shop name shown in templates (overrides $SHOP_NAME)"),
		shopURL:         fs.String("shop-url", config.ShopURL, "storefront URL (overrides $SHOP_URL)"),
		agentName:       fs.String("agent-name", config.AgentName, "first name of the human agent (overrides $AGENT_NAME)"),
		timezone:        fs.String("timezone", config.Timezone, "IANA timezone for conversation days and notifications (overrides $TIMEZONE)"),
		graphURL:        fs.String("graph-api-url", config.GraphAPIURL, "Graph API URL (overrides $GRAPH_API_URL)"),
		graphVersion:    fs.String("graph-api-version", config.GraphAPIVersion, "Graph API version (overrides $GRAPH_API_VERSION)"),
		openaiKey:       fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBaseURL:   fs.String("openai-base-url", config.OpenAIBaseURL, "OpenAI compatible base URL (overrides $OPENAI_BASE_URL)"),
		openaiModel:     fs.String("openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR and $PORT)"),
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for PagePipe data (overrides $PAGEPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL or SQLite path (overrides $DATABASE_URL)"),
		logFile:         fs.String("log-file", config.LogFile, "rotated log file, stdout when empty (overrides $LOG_FILE)"),
		logLevel:        fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		logFormat:       fs.String("log-format", config.LogFormat, "text or json (overrides $LOG_FORMAT)"),
		twilioSID:       fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:     fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:      fs.String("twilio-from", config.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)"),
		notifyTo:        fs.String("order-notify-to", config.OrderNotifyTo, "comma separated numbers told about confirmed orders (overrides $ORDER_NOTIFY_TO)"),
		messageInterval: fs.Duration("message-interval", config.MessageInterval, "delay between consecutive responses (overrides $MESSAGE_INTERVAL)"),
		optinDelay:      fs.Duration("optin-delay", config.OptinDelay, "delay before the sample recurring notification (overrides $OPTIN_DELAY)"),
		annotate:        fs.Bool("annotate-transcript", config.Annotate, "prefix history turns with author and time (overrides $ANNOTATE_TRANSCRIPT)"),
		linkQR:          fs.String("print-link-qr", "", "print a QR code for the m.me link with this ref and exit"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Keep the default SQLite file inside an overridden state directory
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	return flags, nil
}

// ensureDirectoriesExist creates the state directory and the directory of a file-based DSN
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func buildLoggingConfig(flags Flags) logging.Config {
	return logging.Config{File: *flags.logFile, Level: *flags.logLevel, Format: *flags.logFormat}
}

func buildGraphOptions(flags Flags) []graph.Option {
	opts := []graph.Option{
		graph.WithBaseURL(*flags.graphURL),
		graph.WithVersion(*flags.graphVersion),
		graph.WithPageAccessToken(*flags.pageToken),
		graph.WithPageID(*flags.pageID),
	}
	if *flags.appID != "" {
		opts = append(opts, graph.WithApp(*flags.appID, *flags.appSecret))
	}
	return opts
}

// loadLocation resolves the configured timezone, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

func buildGenAIOptions(flags Flags, history genai.HistorySource) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithModel(*flags.openaiModel),
		genai.WithHistory(history),
		genai.WithTranscriptOptions(
			conversation.WithPageID(*flags.pageID),
			conversation.WithPageName(*flags.pageName),
			conversation.WithLocation(loadLocation(*flags.timezone)),
			conversation.WithAnnotation(*flags.annotate),
		),
	}
	if *flags.openaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	return opts
}

func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	return storeOpts
}

// openStore opens the backend selected by the DSN; no DSN keeps everything in memory.
func openStore(flags Flags) (store.Store, error) {
	switch {
	case *flags.dbDSN == "":
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(*flags.dbDSN) == "postgres":
		return store.NewPostgresStore(buildStoreOptions(flags)...)
	default:
		return store.NewSQLiteStore(buildStoreOptions(flags)...)
	}
}

func buildNotifierOptions(flags Flags) []notify.Option {
	return []notify.Option{
		notify.WithAccountSID(*flags.twilioSID),
		notify.WithAuthToken(*flags.twilioToken),
		notify.WithFrom(*flags.twilioFrom),
		notify.WithRecipients(strings.Split(*flags.notifyTo, ",")...),
	}
}

// buildNotifier returns a Twilio notifier when Twilio is configured, otherwise a no-op.
func buildNotifier(flags Flags) notify.Notifier {
	if *flags.twilioSID == "" {
		slog.Info("Twilio not configured, confirmed orders will only be logged")
		return notify.Noop{}
	}
	n, err := notify.NewTwilioNotifier(buildNotifierOptions(flags)...)
	if err != nil {
		slog.Warn("Twilio notifier disabled", "error", err)
		return notify.Noop{}
	}
	return n
}

func buildFlowOptions(flags Flags, reporter flow.EventReporter) []flow.Option {
	opts := []flow.Option{
		flow.WithShop(*flags.shopName, *flags.shopURL),
		flow.WithAppURL(*flags.appURL),
		flow.WithReporter(reporter),
	}
	if *flags.agentName != "" {
		opts = append(opts, flow.WithAgentName(*flags.agentName))
	}
	if *flags.timezone != "" {
		opts = append(opts, flow.WithTimezone(*flags.timezone))
	}
	return opts
}

func buildAPIOptions(flags Flags) []api.Option {
	return []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithVerifyToken(*flags.verifyToken),
		api.WithAppSecret(*flags.appSecret),
		api.WithAppURL(*flags.appURL),
	}
}

// run wires the modules together and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	m := metrics.New()

	gc, err := graph.NewClient(buildGraphOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to create Graph API client: %w", err)
	}

	st, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	router := flow.NewRouter(i18n.MustLoad(), buildFlowOptions(flags, gc)...)
	sender := messaging.NewSender(gc,
		messaging.WithInterval(*flags.messageInterval),
		messaging.WithSenderMetrics(m))

	recvOpts := []messaging.ReceiverOption{
		messaging.WithAppID(*flags.appID),
		messaging.WithOptinDelay(*flags.optinDelay),
		messaging.WithOrders(st),
		messaging.WithNotifier(buildNotifier(flags)),
		messaging.WithReceiverMetrics(m),
	}
	if *flags.openaiKey != "" {
		gen, err := genai.NewClient(buildGenAIOptions(flags, gc)...)
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		recvOpts = append(recvOpts, messaging.WithReplier(gen))
	} else {
		slog.Warn("OPENAI_API_KEY not set, free text will get the fallback menu")
	}
	receiver := messaging.NewReceiver(router, sender, messaging.NewProfileCache(gc), recvOpts...)

	apiOpts := append(buildAPIOptions(flags),
		api.WithPageConfigurer(gc, router.MessengerProfile()),
		api.WithReceipts(sender.Receipts()),
		api.WithMetrics(m),
	)
	server := api.NewServer(receiver, st, apiOpts...)
	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if err := sender.Stop(shutdownCtx); err != nil {
		slog.Warn("Pending messages dropped at shutdown", "error", err)
	}
	if err := server.FlushReceipts(shutdownCtx); err != nil {
		slog.Warn("Receipts not flushed at shutdown", "error", err)
	}
	return runErr
}

// mMeLink returns the m.me link that opens the page thread with ref.
func mMeLink(pageID, ref string) (string, error) {
	if pageID == "" {
		return "", errors.New("page id not set")
	}
	return "https://m.me/" + url.PathEscape(pageID) + "?ref=" + url.QueryEscape(ref), nil
}

// printLinkQR prints the m.me link for ref and its QR code, for testing
// OPEN_THREAD referrals from a phone.
func printLinkQR(w io.Writer, pageID, ref string) error {
	link, err := mMeLink(pageID, ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, link)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
	return nil
}
