package gportal

// GraphQL documents sent to the control plane.
const (
	sidQuery = `query sid($gameserverId: Int!, $region: REGION!) {
  sid(gameserverId: $gameserverId, region: $region)
}`

	ctxQuery = `query ctx($sid: Int!, $region: REGION!) {
  cfgContext(rsid: {id: $sid, region: $region}) {
    ns {
      service {
        currentState {
          state
          fsmState
          fsmIsTransitioning
          __typename
        }
        __typename
      }
      __typename
    }
    __typename
  }
}`

	sendConsoleMessageMutation = `mutation sendConsoleMessage($sid: Int!, $region: REGION!, $message: String!) {
  sendConsoleMessage(rsid: {id: $sid, region: $region}, message: $message) {
    ok
    __typename
  }
}`

	consoleMessagesSubscription = `subscription consoleMessages($sid: Int!, $region: REGION!) {
  consoleMessages(rsid: {id: $sid, region: $region}) {
    stream
    message
    __typename
  }
}`

	serviceStateSubscription = `subscription serviceState($sid: Int!, $region: REGION!) {
  serviceState(rsid: {id: $sid, region: $region}) {
    state
    fsmState
    fsmIsTransitioning
    fsmLastStateChange
    __typename
  }
}`
)
