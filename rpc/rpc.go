package rpc

import (
	"errors"
	"net"
	"net/rpc"
	"sort"

	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/room"
	"github.com/wfunc/auctionserver/state"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr. Services are registered with Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

func (s *Server) Register(service interface{}) error {
	return s.rpc.Register(service)
}

// Start accepts connections until Stop is called.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return nil
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			return err
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AuctionService exposes read-only registry views to operators.
type AuctionService struct {
	registry *room.Registry
}

func NewAuctionService(registry *room.Registry) *AuctionService {
	return &AuctionService{registry: registry}
}

type ListRoomsArgs struct {
	// OpenOnly restricts the result to public rooms accepting members.
	OpenOnly bool
}

type RoomInfo struct {
	ID         uint16
	Name       string
	Visible    bool
	Phase      string
	MaxMembers int
	Members    []room.Member
	HighestBid room.Bid
	EndTimeMs  int64
	OwnerID    int64
}

type ListRoomsReply struct {
	Rooms []RoomInfo
}

type GetRoomArgs struct {
	RoomID uint16
}

type GetRoomReply struct {
	Room RoomInfo
}

func (as *AuctionService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	var snaps []room.Snapshot
	if args.OpenOnly {
		snaps = as.registry.ListOpenRooms()
	} else {
		snaps = as.registry.Snapshots()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	reply.Rooms = make([]RoomInfo, 0, len(snaps))
	for _, snap := range snaps {
		reply.Rooms = append(reply.Rooms, roomInfo(snap))
	}
	return nil
}

func (as *AuctionService) GetRoom(args *GetRoomArgs, reply *GetRoomReply) error {
	rm, ok := as.registry.GetRoom(args.RoomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	reply.Room = roomInfo(rm.Snapshot())
	return nil
}

func roomInfo(snap room.Snapshot) RoomInfo {
	info := RoomInfo{
		ID:         snap.ID,
		Name:       snap.Name,
		Visible:    snap.Visible,
		Phase:      snap.Phase.String(),
		MaxMembers: snap.MaxMembers,
		Members:    snap.Members,
		HighestBid: snap.Ledger,
		OwnerID:    snap.OwnerID,
	}
	if snap.Phase != state.Open {
		info.EndTimeMs = snap.EndTime.UnixMilli()
	}
	return info
}
