package network

// Message ids are partitioned into contiguous blocks of BlockSize tags, one
// block per plugin. Block 0 belongs to the server itself.
const BlockSize = 100

// Block returns the block index a message id falls into.
func Block(msgID uint16) uint16 {
	return msgID / BlockSize
}

const (
	SystemBlock  uint16 = 0
	AuctionBlock uint16 = 4
)

const (
	MsgTypeHeartbeat     = 1
	MsgTypeLogin         = 2
	MsgTypeLoginResponse = 3
	MsgTypeNotLoggedIn   = 4
	MsgTypeThrottled     = 5
)

const (
	MsgTypeAuctionCreate        = 400
	MsgTypeAuctionCreateSuccess = 401
	MsgTypeAuctionCreateFailure = 402
	MsgTypeAuctionJoin          = 403
	MsgTypeAuctionJoinSuccess   = 404
	MsgTypeAuctionJoinFailure   = 405
	MsgTypeAuctionLeave         = 406
	MsgTypeAuctionLeaveSuccess  = 407
	MsgTypeAuctionLeaveFailure  = 408
	MsgTypeAuctionGetOpenRooms  = 409
	MsgTypeAuctionOpenRooms     = 410
	MsgTypeAuctionStart         = 411
	MsgTypeAuctionStarted       = 412
	MsgTypeAuctionStartFailure  = 413
	MsgTypeAuctionAddBid        = 414
	MsgTypeAuctionBidAccepted   = 415
	MsgTypeAuctionBidRejected   = 416
	MsgTypeAuctionPlayerJoined  = 417
	MsgTypeAuctionPlayerLeft    = 418
	MsgTypeAuctionBidPlaced     = 419
	MsgTypeAuctionFinished      = 420
)

// Error codes carried as a single byte in failure responses.
const (
	ErrCodeInvalidData     byte = 1
	ErrCodeRoomNotFound    byte = 2
	ErrCodeNotHost         byte = 3
	ErrCodeRoomFull        byte = 4
	ErrCodeAlreadyStarted  byte = 5
	ErrCodeAlreadyInRoom   byte = 6
	ErrCodeNotInRoom       byte = 7
	ErrCodeStaleBid        byte = 8
	ErrCodeNotRunning      byte = 9
	ErrCodeNoRoomAvailable byte = 10
	ErrCodeNotLoggedIn     byte = 11
	ErrCodeThrottled       byte = 12
	ErrCodeTooLarge        byte = 13
)
