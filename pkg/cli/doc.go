// Package cli implements the usersync admin command line, a thin client
// of the HTTP admin API.
//
// Every command takes the global --server and --token flags, defaulting
// to USERSYNC_SERVER and USERSYNC_TOKEN:
//
//	usersync-cli list-users --search naru
//	usersync-cli create-user --username rock_lee --password ... --type CHARACTER
//	usersync-cli push-all
//	usersync-cli assign-role --username shikamaru --role CHARACTER
//
// Errors returned by the server are reported as *APIError, carrying the
// username the server failed on when there is one.
package cli
