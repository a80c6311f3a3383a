// handler/auction.go
package handler

import (
	"errors"
	"math"

	"github.com/wfunc/auctionserver/broadcast"
	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/network"
	"github.com/wfunc/auctionserver/room"
	"github.com/wfunc/auctionserver/session"
)

// Metrics is the subset of monitor.Monitor the handler reports to.
type Metrics interface {
	SetActiveRooms(count int)
	IncBidAccepted()
	IncBidRejected(reason string)
	IncAuctionsFinished()
}

// PayloadSource produces the content attached to a new room.
type PayloadSource func() ([]byte, error)

// MaxRoomName bounds room names in bytes.
const MaxRoomName = 64

// maxPayload leaves room in a frame for the rest of the room snapshot.
const maxPayload = math.MaxUint16 - 1024

// AuctionHandler translates auction packets into registry and room calls.
// It keeps no auction state of its own.
type AuctionHandler struct {
	registry    *room.Registry
	broadcaster broadcast.Broadcaster
	metrics     Metrics
	payload     PayloadSource

	// defaultVisible applies to create requests that omit the visibility flag.
	defaultVisible bool
}

// NewAuctionHandler wires the handler and subscribes it to close-out events.
// metrics and payload may be nil.
func NewAuctionHandler(registry *room.Registry, broadcaster broadcast.Broadcaster, metrics Metrics, payload PayloadSource, defaultVisible bool) *AuctionHandler {
	h := &AuctionHandler{
		registry:       registry,
		broadcaster:    broadcaster,
		metrics:        metrics,
		payload:        payload,
		defaultVisible: defaultVisible,
	}
	registry.OnFinished(h.onFinished)
	return h
}

// Block is the tag block this handler owns.
func (h *AuctionHandler) Block() uint16 {
	return network.AuctionBlock
}

// Handles reports whether msgID belongs to the auction block.
func (h *AuctionHandler) Handles(msgID uint16) bool {
	return network.Block(msgID) == network.AuctionBlock
}

func (h *AuctionHandler) HandlePacket(sess *session.Session, packet *network.Packet) {
	if !h.Handles(packet.MsgID) {
		return
	}

	userID, name, ok := sess.Identity()
	if !ok {
		h.reply(sess, network.MsgTypeNotLoggedIn, notLoggedIn(packet.MsgID))
		return
	}
	p := player{sess: sess, id: userID, name: name}

	switch packet.MsgID {
	case network.MsgTypeAuctionCreate:
		h.handleCreate(p, packet.Data)
	case network.MsgTypeAuctionJoin:
		h.handleJoin(p, packet.Data)
	case network.MsgTypeAuctionLeave:
		h.handleLeave(p)
	case network.MsgTypeAuctionGetOpenRooms:
		h.handleGetOpenRooms(p)
	case network.MsgTypeAuctionStart:
		h.handleStart(p, packet.Data)
	case network.MsgTypeAuctionAddBid:
		h.handleAddBid(p, packet.Data)
	default:
		logger.Log.Infof("Unknown auction message type: %d", packet.MsgID)
	}
}

// HandleDisconnect runs the leave path for a player whose last session is
// gone. Nothing is sent to the departing player.
func (h *AuctionHandler) HandleDisconnect(sess *session.Session) {
	userID, _, ok := sess.Identity()
	if !ok {
		return
	}
	_, res, err := h.registry.OnPlayerDisconnected(userID)
	if err != nil {
		return
	}
	h.announceLeave(res)
}

type player struct {
	sess *session.Session
	id   int64
	name string
}

func (h *AuctionHandler) handleCreate(p player, data []byte) {
	r := network.NewReader(data)
	name := r.String()
	visible := h.defaultVisible
	if r.Err() == nil && r.Remaining() > 0 {
		visible = r.Bool()
	}
	if r.Err() != nil || len(name) > MaxRoomName {
		h.fail(p, network.MsgTypeAuctionCreateFailure, network.ErrCodeInvalidData)
		return
	}

	var payload []byte
	if h.payload != nil {
		var err error
		if payload, err = h.payload(); err != nil {
			logger.Log.Errorf("Failed to generate room payload: %v", err)
		}
	}
	if len(payload) > maxPayload {
		logger.Log.Errorf("Room payload of %d bytes exceeds %d", len(payload), maxPayload)
		h.fail(p, network.MsgTypeAuctionCreateFailure, network.ErrCodeTooLarge)
		return
	}

	rm, err := h.registry.CreateRoom(p.id, p.name, name, visible, payload)
	if err != nil {
		h.fail(p, network.MsgTypeAuctionCreateFailure, errorCode(err))
		return
	}

	snap := rm.Snapshot()
	w := writeSnapshot(network.NewWriter(), snap)
	if host, ok := snap.Host(); ok {
		writeMember(w, host)
	}
	reply, err := finishFrame(w)
	if err != nil {
		logger.Log.Errorf("Encode room %d snapshot: %v", rm.ID(), err)
		h.rollback(p)
		h.fail(p, network.MsgTypeAuctionCreateFailure, network.ErrCodeTooLarge)
		return
	}
	h.updateActiveRooms()
	h.reply(p.sess, network.MsgTypeAuctionCreateSuccess, reply)
}

func (h *AuctionHandler) handleJoin(p player, data []byte) {
	r := network.NewReader(data)
	roomID := r.Uint16()
	if r.Err() != nil {
		h.fail(p, network.MsgTypeAuctionJoinFailure, network.ErrCodeInvalidData)
		return
	}

	rm, res, err := h.registry.JoinRoom(roomID, p.id, p.name)
	if err != nil {
		h.fail(p, network.MsgTypeAuctionJoinFailure, errorCode(err))
		return
	}

	snap := rm.Snapshot()
	w := writeSnapshot(network.NewWriter(), snap)
	writeMembers(w, res.Members)
	reply, err := finishFrame(w)
	if err != nil {
		logger.Log.Errorf("Encode room %d snapshot: %v", rm.ID(), err)
		h.rollback(p)
		h.fail(p, network.MsgTypeAuctionJoinFailure, network.ErrCodeTooLarge)
		return
	}
	h.reply(p.sess, network.MsgTypeAuctionJoinSuccess, reply)

	joined, err := writeMember(network.NewWriter(), res.Member).Finish()
	if err != nil {
		logger.Log.Errorf("Encode player joined: %v", err)
		return
	}
	h.broadcaster.BroadcastToMembers(res.Members, p.id, network.MsgTypeAuctionPlayerJoined, joined)
}

// rollback undoes a create or join whose confirmation could not be encoded.
// Nobody else has been told about the seat yet.
func (h *AuctionHandler) rollback(p player) {
	if _, _, err := h.registry.LeaveRoom(p.id); err != nil {
		logger.Log.Warnf("Rollback for player %d: %v", p.id, err)
	}
	h.updateActiveRooms()
}

func (h *AuctionHandler) handleLeave(p player) {
	_, res, err := h.registry.LeaveRoom(p.id)
	if err != nil {
		h.fail(p, network.MsgTypeAuctionLeaveFailure, errorCode(err))
		return
	}
	h.reply(p.sess, network.MsgTypeAuctionLeaveSuccess, nil)
	h.announceLeave(res)
}

func (h *AuctionHandler) handleGetOpenRooms(p player) {
	data, err := encodeOpenRooms(h.registry.ListOpenRooms())
	if err != nil {
		logger.Log.Errorf("Encode open rooms: %v", err)
		return
	}
	h.reply(p.sess, network.MsgTypeAuctionOpenRooms, data)
}

func (h *AuctionHandler) handleStart(p player, data []byte) {
	r := network.NewReader(data)
	roomID := r.Uint16()
	if r.Err() != nil {
		h.fail(p, network.MsgTypeAuctionStartFailure, network.ErrCodeInvalidData)
		return
	}

	rm, ok := h.registry.GetRoom(roomID)
	if !ok {
		h.fail(p, network.MsgTypeAuctionStartFailure, network.ErrCodeRoomNotFound)
		return
	}
	res, err := rm.Start(p.id)
	if err != nil {
		h.fail(p, network.MsgTypeAuctionStartFailure, errorCode(err))
		return
	}

	logger.Log.Infof("Player %d started auction in room %d, ends at %s", p.id, roomID, res.EndTime)
	started, err := network.NewWriter().Int64(unixMilli(res.EndTime)).Finish()
	if err != nil {
		logger.Log.Errorf("Encode auction started: %v", err)
		return
	}
	h.broadcaster.BroadcastToMembers(res.Members, 0, network.MsgTypeAuctionStarted, started)
}

func (h *AuctionHandler) handleAddBid(p player, data []byte) {
	r := network.NewReader(data)
	roomID := r.Uint16()
	amount := r.Uint32()
	if r.Err() != nil {
		h.rejectBid(p, "invalid", []byte{network.ErrCodeInvalidData})
		return
	}

	rm, ok := h.registry.GetRoom(roomID)
	if !ok {
		h.rejectBid(p, "not_found", nil)
		return
	}
	res, err := rm.Bid(p.id, amount)
	if err != nil {
		h.rejectBid(p, rejectReason(err), nil)
		return
	}

	if h.metrics != nil {
		h.metrics.IncBidAccepted()
	}
	h.reply(p.sess, network.MsgTypeAuctionBidAccepted, nil)

	placed, err := writeBid(network.NewWriter(), res.Bid).Finish()
	if err != nil {
		logger.Log.Errorf("Encode bid placed: %v", err)
		return
	}
	h.broadcaster.BroadcastToMembers(res.Members, p.id, network.MsgTypeAuctionBidPlaced, placed)
}

func (h *AuctionHandler) rejectBid(p player, reason string, data []byte) {
	if h.metrics != nil {
		h.metrics.IncBidRejected(reason)
	}
	h.reply(p.sess, network.MsgTypeAuctionBidRejected, data)
}

func (h *AuctionHandler) announceLeave(res room.LeaveResult) {
	h.updateActiveRooms()
	if res.Empty {
		return
	}
	data, err := encodePlayerLeft(res)
	if err != nil {
		logger.Log.Errorf("Encode player left: %v", err)
		return
	}
	h.broadcaster.BroadcastToMembers(res.Remaining, 0, network.MsgTypeAuctionPlayerLeft, data)
}

func (h *AuctionHandler) onFinished(ev room.Finished) {
	if h.metrics != nil {
		h.metrics.IncAuctionsFinished()
	}
	data, err := encodeFinished(ev)
	if err != nil {
		logger.Log.Errorf("Encode auction finished: %v", err)
		return
	}
	h.broadcaster.BroadcastToMembers(ev.Members, 0, network.MsgTypeAuctionFinished, data)
}

func (h *AuctionHandler) updateActiveRooms() {
	if h.metrics != nil {
		h.metrics.SetActiveRooms(h.registry.Count())
	}
}

func (h *AuctionHandler) fail(p player, msgID uint16, code byte) {
	h.reply(p.sess, msgID, []byte{code})
}

func (h *AuctionHandler) reply(sess *session.Session, msgID uint16, data []byte) {
	if err := sess.Send(msgID, data); err != nil {
		logger.Log.Debugf("Send %d to session %s failed: %v", msgID, sess.GetID(), err)
	}
}

func notLoggedIn(msgID uint16) []byte {
	data, _ := network.NewWriter().Uint16(msgID).Uint8(network.ErrCodeNotLoggedIn).Finish()
	return data
}

var errorCodes = []struct {
	err  error
	code byte
}{
	{room.ErrRoomNotFound, network.ErrCodeRoomNotFound},
	{room.ErrRoomClosed, network.ErrCodeRoomNotFound},
	{room.ErrNotHost, network.ErrCodeNotHost},
	{room.ErrRoomFull, network.ErrCodeRoomFull},
	{room.ErrAlreadyStarted, network.ErrCodeAlreadyStarted},
	{room.ErrAlreadyInRoom, network.ErrCodeAlreadyInRoom},
	{room.ErrNotInRoom, network.ErrCodeNotInRoom},
	{room.ErrNotMember, network.ErrCodeNotInRoom},
	{room.ErrStaleBid, network.ErrCodeStaleBid},
	{room.ErrNotRunning, network.ErrCodeNotRunning},
	{room.ErrNoRoomID, network.ErrCodeNoRoomAvailable},
}

func errorCode(err error) byte {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	logger.Log.Warnf("Unmapped auction error: %v", err)
	return network.ErrCodeInvalidData
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, room.ErrStaleBid):
		return "stale"
	case errors.Is(err, room.ErrNotRunning):
		return "not_running"
	case errors.Is(err, room.ErrNotMember):
		return "not_member"
	default:
		return "other"
	}
}
