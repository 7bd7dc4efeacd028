package bus

// BallEnterPayload carries a relay event: NewBalls counts the delta just
// observed, UnclaimedBalls starts equal to NewBalls and is decremented by
// each incoming-ball handler that claims a ball against a commitment.
type BallEnterPayload struct {
	NewBalls       int
	UnclaimedBalls int
	Device         string
}

// BallLeftPayload is posted once a source's counter confirms a ball has
// physically departed toward Target.
type BallLeftPayload struct {
	Balls       int
	Target      string
	NumAttempts int
}

// BallEjectAttemptPayload is posted (as a queue event) before a source fires
// its coil, giving the target a chance to hold the post open until it has
// spare incoming capacity.
type BallEjectAttemptPayload struct {
	Source string
	Target string
}

// BallEjectSuccessPayload is posted once an eject attempt is fully
// confirmed.
type BallEjectSuccessPayload struct {
	Balls  int
	Target string
}

// BallEjectFailedPayload is posted on every failed attempt, whether or not
// a retry follows.
type BallEjectFailedPayload struct {
	Target      string
	Balls       int
	Retry       bool
	NumAttempts int
}

// BallLostPayload is posted when a committed incoming ball never arrived.
type BallLostPayload struct {
	Target string
}

// OkToReceivePayload is a relay event advertising spare incoming capacity.
type OkToReceivePayload struct {
	Balls int
}

// CapturedFromPayload is posted when an unexpected ball is attributed to a
// capture source.
type CapturedFromPayload struct {
	Balls int
}
