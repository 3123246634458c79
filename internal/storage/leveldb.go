package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

const (
	OutboundLanePrefix   = "outbound_lane/"
	InboundLanePrefix    = "inbound_lane/"
	PendingProofPrefix   = "pending_proofs/"
	SubmittedProofPrefix = "submitted_proofs/"
)

// LevelDBStorage persists lane state and the proof submission journal. The
// layout is flat key prefixes with JSON values:
//   - outbound_lane/<lane>           -> relay.OutboundLaneData
//   - inbound_lane/<lane>            -> relay.InboundLaneData
//   - submitted_proofs/<lane>/<hash> -> relay.SubmittedProofInfo
//   - pending_proofs/<lane>/<hash>   -> marker of a not-yet-terminal submission
type LevelDBStorage struct {
	sync.Mutex
	db *leveldb.DB
}

func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	database, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	return &LevelDBStorage{db: database}, nil
}

// OutboundLaneData returns the persisted outbound state of the lane, or the
// zero state if the lane was never written.
func (s *LevelDBStorage) OutboundLaneData(lane relay.LaneID) (relay.OutboundLaneData, error) {
	s.Lock()
	defer s.Unlock()
	return s.outboundLaneData(lane)
}

func (s *LevelDBStorage) outboundLaneData(lane relay.LaneID) (relay.OutboundLaneData, error) {
	var data relay.OutboundLaneData
	raw, err := s.db.Get(outboundLaneKey(lane), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return data, nil
		}
		return data, fmt.Errorf("failed getting outbound lane data from db: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal data into OutboundLaneData: %w", err)
	}
	return data, nil
}

// InboundLaneData returns the persisted inbound state of the lane, or the zero
// state if the lane was never written.
func (s *LevelDBStorage) InboundLaneData(lane relay.LaneID) (relay.InboundLaneData, error) {
	s.Lock()
	defer s.Unlock()
	return s.inboundLaneData(lane)
}

func (s *LevelDBStorage) inboundLaneData(lane relay.LaneID) (relay.InboundLaneData, error) {
	var data relay.InboundLaneData
	raw, err := s.db.Get(inboundLaneKey(lane), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return data, nil
		}
		return data, fmt.Errorf("failed getting inbound lane data from db: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal data into InboundLaneData: %w", err)
	}
	return data, nil
}

// MutateOutbound applies fn to the lane's outbound state under the storage
// lock and persists the result if fn succeeds.
func (s *LevelDBStorage) MutateOutbound(lane relay.LaneID, fn func(*relay.OutboundLaneData) error) error {
	s.Lock()
	defer s.Unlock()

	data, err := s.outboundLaneData(lane)
	if err != nil {
		return err
	}
	if err := fn(&data); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to Marshal OutboundLaneData: %w", err)
	}
	if err := s.db.Put(outboundLaneKey(lane), raw, nil); err != nil {
		return fmt.Errorf("failed to store outbound lane data: %w", err)
	}
	return nil
}

// MutateInbound applies fn to the lane's inbound state under the storage lock
// and persists the result if fn succeeds.
func (s *LevelDBStorage) MutateInbound(lane relay.LaneID, fn func(*relay.InboundLaneData) error) error {
	s.Lock()
	defer s.Unlock()

	data, err := s.inboundLaneData(lane)
	if err != nil {
		return err
	}
	if err := fn(&data); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to Marshal InboundLaneData: %w", err)
	}
	if err := s.db.Put(inboundLaneKey(lane), raw, nil); err != nil {
		return fmt.Errorf("failed to store inbound lane data: %w", err)
	}
	return nil
}

// RecordSubmittedProof journals a fresh proof submission. Non-terminal entries
// are additionally indexed under the pending prefix so crash recovery can
// resume tracking them.
func (s *LevelDBStorage) RecordSubmittedProof(info relay.SubmittedProofInfo) error {
	s.Lock()
	defer s.Unlock()

	t, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open leveldb transaction: %w", err)
	}
	defer t.Discard()

	if info.SubmittedAt.IsZero() {
		info.SubmittedAt = time.Now()
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to Marshal SubmittedProofInfo: %w", err)
	}
	if err := t.Put(submittedProofKey(info.Lane, info.TxHash), raw, nil); err != nil {
		return fmt.Errorf("failed to journal submitted proof: %w", err)
	}

	pending := relay.PendingSubmittedProof{Lane: info.Lane, TxHash: info.TxHash}
	rawPending, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to Marshal PendingSubmittedProof: %w", err)
	}
	if info.Status == relay.SubmissionSubmitted {
		if err := t.Put(pendingProofKey(info.Lane, info.TxHash), rawPending, nil); err != nil {
			return fmt.Errorf("failed to index pending proof: %w", err)
		}
	}

	if err := t.Commit(); err != nil {
		return fmt.Errorf("failed to commit leveldb transaction: %w", err)
	}
	return nil
}

// SetProofStatus moves a journaled submission to a new status, clearing the
// pending index once the status is terminal.
func (s *LevelDBStorage) SetProofStatus(lane relay.LaneID, txHash string, status relay.SubmissionStatus) error {
	s.Lock()
	defer s.Unlock()

	t, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open leveldb transaction: %w", err)
	}
	defer t.Discard()

	raw, err := t.Get(submittedProofKey(lane, txHash), nil)
	if err != nil {
		return fmt.Errorf("failed getting submitted proof from db: %w", err)
	}
	var info relay.SubmittedProofInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("failed to unmarshal data into SubmittedProofInfo: %w", err)
	}

	info.Status = status
	raw, err = json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to Marshal SubmittedProofInfo: %w", err)
	}
	if err := t.Put(submittedProofKey(lane, txHash), raw, nil); err != nil {
		return fmt.Errorf("failed to update submitted proof: %w", err)
	}
	if status != relay.SubmissionSubmitted {
		if err := t.Delete(pendingProofKey(lane, txHash), nil); err != nil {
			return fmt.Errorf("failed to clear pending proof index: %w", err)
		}
	}

	if err := t.Commit(); err != nil {
		return fmt.Errorf("failed to commit leveldb transaction: %w", err)
	}
	return nil
}

// GetAllPendingProofs returns journal entries that have not reached a terminal
// status.
func (s *LevelDBStorage) GetAllPendingProofs() ([]*relay.SubmittedProofInfo, error) {
	s.Lock()
	defer s.Unlock()

	iterator := s.db.NewIterator(util.BytesPrefix([]byte(PendingProofPrefix)), nil)
	defer iterator.Release()
	var proofs []*relay.SubmittedProofInfo
	for iterator.Next() {
		var pending relay.PendingSubmittedProof
		if err := json.Unmarshal(iterator.Value(), &pending); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data into PendingSubmittedProof: %w", err)
		}
		raw, err := s.db.Get(submittedProofKey(pending.Lane, pending.TxHash), nil)
		if err != nil {
			return nil, fmt.Errorf("failed getting submitted proof from db: %w", err)
		}
		var info relay.SubmittedProofInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data into SubmittedProofInfo: %w", err)
		}
		proofs = append(proofs, &info)
	}
	return proofs, nil
}

// GetSubmittedProofs returns the lane's full submission journal.
func (s *LevelDBStorage) GetSubmittedProofs(lane relay.LaneID) ([]*relay.SubmittedProofInfo, error) {
	s.Lock()
	defer s.Unlock()

	prefix := SubmittedProofPrefix + lane.String() + "/"
	iterator := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iterator.Release()
	var proofs []*relay.SubmittedProofInfo
	for iterator.Next() {
		var info relay.SubmittedProofInfo
		if err := json.Unmarshal(iterator.Value(), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data into SubmittedProofInfo: %w", err)
		}
		proofs = append(proofs, &info)
	}
	return proofs, nil
}

// Close closes the underlying database.
func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}

func outboundLaneKey(lane relay.LaneID) []byte {
	return []byte(OutboundLanePrefix + lane.String())
}

func inboundLaneKey(lane relay.LaneID) []byte {
	return []byte(InboundLanePrefix + lane.String())
}

func submittedProofKey(lane relay.LaneID, txHash string) []byte {
	return []byte(SubmittedProofPrefix + lane.String() + "/" + txHash)
}

func pendingProofKey(lane relay.LaneID, txHash string) []byte {
	return []byte(PendingProofPrefix + lane.String() + "/" + txHash)
}

// LastDeliveredNonce returns the inbound lane's latest delivered nonce.
func (s *LevelDBStorage) LastDeliveredNonce(lane relay.LaneID) (relay.MessageNonce, error) {
	data, err := s.InboundLaneData(lane)
	if err != nil {
		return 0, err
	}
	return data.LastDeliveredNonce(), nil
}

// LatestConfirmedNonce returns the outbound lane's latest confirmed nonce.
func (s *LevelDBStorage) LatestConfirmedNonce(lane relay.LaneID) (relay.MessageNonce, error) {
	data, err := s.OutboundLaneData(lane)
	if err != nil {
		return 0, err
	}
	return data.LatestReceivedNonce, nil
}
