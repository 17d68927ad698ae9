package gameboard_client

const (
	// API Endpoints
	SessionEndpoint   = "/api/session"
	ChallengeEndpoint = "/api/challenge"
	UndeployEndpoint  = "/api/unity/undeploy"

	// Headers
	AuthorizationHeader = "Authorization"
	ContentTypeHeader   = "Content-Type"
	ContentTypeJSON     = "application/json"
)
