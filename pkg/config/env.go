package config

const (
	EnvPrefix = "BUTTONBID"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "BUTTONBID_APP_ENV"
	EnvPort     = "BUTTONBID_APP_PORT"
	EnvLogLevel = "BUTTONBID_LOG_LEVEL"

	EnvDBDSN  = "BUTTONBID_DB_DSN"
	EnvDBHost = "BUTTONBID_DB_HOST"
	EnvDBPort = "BUTTONBID_DB_PORT"
	EnvDBUser = "BUTTONBID_DB_USER"
	EnvDBName = "BUTTONBID_DB_NAME"

	EnvRedisURL = "BUTTONBID_REDIS_URL"

	EnvGCPProjectID = "BUTTONBID_GCP_PROJECT_ID"

	EnvPubSubAuctionTopic    = "BUTTONBID_PUBSUB_AUCTION_TOPIC"
	EnvPubSubNotificationSub = "BUTTONBID_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "BUTTONBID_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvClothingWindow      = "BUTTONBID_CLOTHING_WINDOW"
	EnvResaleWindow        = "BUTTONBID_RESALE_WINDOW"
	EnvInitialGrantButtons = "BUTTONBID_INITIAL_GRANT_BUTTONS"

	EnvSettlementInterval = "BUTTONBID_SETTLEMENT_INTERVAL"

	EnvBidRateWindow    = "BUTTONBID_BID_RATE_WINDOW"
	EnvBidRateUserLimit = "BUTTONBID_BID_RATE_USER_LIMIT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
