package handler

import (
	"math"
	"time"

	"github.com/wfunc/auctionserver/network"
	"github.com/wfunc/auctionserver/room"
	"github.com/wfunc/auctionserver/state"
)

// finishFrame is Writer.Finish plus the frame length limit.
func finishFrame(w *network.Writer) ([]byte, error) {
	data, err := w.Finish()
	if err != nil {
		return nil, err
	}
	if len(data) > math.MaxUint16 {
		return nil, network.ErrPayloadTooLarge
	}
	return data, nil
}

func writeMember(w *network.Writer, m room.Member) *network.Writer {
	return w.Int64(m.PlayerID).String(m.Name).Bool(m.IsHost)
}

func writeBid(w *network.Writer, b room.Bid) *network.Writer {
	return w.Uint32(b.Seq).Int64(b.BidderID).String(b.BidderName).Uint32(b.Amount)
}

func writeSnapshot(w *network.Writer, s room.Snapshot) *network.Writer {
	w.Uint16(s.ID).
		String(s.Name).
		Bool(s.Visible).
		Bool(s.Phase != state.Open).
		Uint8(clampUint8(s.MaxMembers)).
		Uint8(clampUint8(len(s.Members))).
		Int64(unixMilli(s.EndTime))
	writeBid(w, s.Ledger)
	return w.Bytes(s.Payload)
}

func writeMembers(w *network.Writer, members []room.Member) *network.Writer {
	w.Uint8(clampUint8(len(members)))
	for _, m := range members {
		writeMember(w, m)
	}
	return w
}

func encodeOpenRooms(rooms []room.Snapshot) ([]byte, error) {
	if len(rooms) > math.MaxUint16 {
		rooms = rooms[:math.MaxUint16]
	}
	w := network.NewWriter().Uint16(uint16(len(rooms)))
	for _, s := range rooms {
		w.Uint16(s.ID).
			String(s.Name).
			Uint8(clampUint8(len(s.Members))).
			Bool(s.Phase != state.Open)
	}
	return w.Finish()
}

func encodePlayerLeft(res room.LeaveResult) ([]byte, error) {
	return network.NewWriter().
		Int64(res.Left.PlayerID).
		Int64(res.Host.PlayerID).
		String(res.Left.Name).
		Finish()
}

func encodeFinished(ev room.Finished) ([]byte, error) {
	return network.NewWriter().
		Uint16(ev.RoomID).
		String(ev.Name).
		Int64(ev.Winner.BidderID).
		String(ev.Winner.BidderName).
		Uint32(ev.Winner.Amount).
		Finish()
}

// unixMilli is zero for the zero time.
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func clampUint8(n int) uint8 {
	if n > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(n)
}
