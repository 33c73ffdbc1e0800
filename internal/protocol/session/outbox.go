package session

import (
	"sort"
	"sync"
	"time"
)

// PendingRequest tracks one request awaiting a reply with the same reqid.
type PendingRequest struct {
	ReqID  int
	Pump   string
	SentAt time.Time
}

// PendingRequests stores outstanding requests by reqid.
type PendingRequests struct {
	mu    sync.RWMutex
	items map[int]PendingRequest
}

func NewPendingRequests() *PendingRequests {
	return &PendingRequests{
		items: make(map[int]PendingRequest),
	}
}

func (o *PendingRequests) Add(item PendingRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.ReqID] = item
}

// Resolve removes and returns the request matching reqid.
func (o *PendingRequests) Resolve(reqid int) (PendingRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[reqid]
	if ok {
		delete(o.items, reqid)
	}
	return item, ok
}

func (o *PendingRequests) Get(reqid int) (PendingRequest, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[reqid]
	return item, ok
}

func (o *PendingRequests) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

func (o *PendingRequests) List() []PendingRequest {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingRequest, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReqID < out[j].ReqID
	})
	return out
}
