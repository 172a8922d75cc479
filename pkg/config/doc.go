// Package config loads usersync configuration from environment variables,
// with an optional YAML overlay for settings tuned at runtime.
//
// # Configuration Structure
//
// Server settings:
//
//	USERSYNC_PORT="8080"
//	USERSYNC_HEALTH_PORT="9090"
//	USERSYNC_ALLOWED_ORIGINS="https://app.example.com"
//	USERSYNC_ADMIN_RATE_LIMIT="120"  # admin calls per user per minute, 0 disables
//
// Storage settings:
//
//	USERSYNC_DB_DRIVER="postgres"  # postgres, sqlite3
//	USERSYNC_DB_DSN="postgres://localhost/usersync"
//	USERSYNC_REDIS_URL="redis://localhost:6379"
//	USERSYNC_S3_BUCKET="usersync-reports"
//
// Identity provider settings:
//
//	USERSYNC_KEYCLOAK_URL="https://sso.example.com"
//	USERSYNC_KEYCLOAK_REALM="sss"
//	USERSYNC_KEYCLOAK_ADMIN_USERNAME="admin"
//	USERSYNC_KEYCLOAK_ADMIN_PASSWORD="..."
//
// Sync settings:
//
//	USERSYNC_SYNC_WORKERS="8"
//	USERSYNC_SYNC_SCHEDULE="0 3 * * *"
//
// # Overlay
//
// USERSYNC_CONFIG_FILE names a YAML file whose values win over the
// environment:
//
//	log_level: debug
//	required_roles: [ADMIN, ROLE_ADMIN, USER, CHARACTER]
//	sweep_workers: 4
//	sweep_schedule: "*/30 * * * *"
//
// Watch re-reads the file on change so the server can apply a new log
// level without a restart.
package config
