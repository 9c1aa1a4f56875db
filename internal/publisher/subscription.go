package publisher

// OpcSubscription groups monitored items sharing one publishing interval
// (data-change subscriptions) or one event source (event subscriptions). The
// two kinds are never mixed in one subscription.
type OpcSubscription struct {
	RequestedPublishingInterval  int
	PublishingIntervalFromConfig bool

	// PublishingInterval is the interval the protocol stack actually
	// granted; zero until the subscription is created on the wire.
	PublishingInterval int

	// EventSourceID is set only on event subscriptions and is the
	// collection key for that kind.
	EventSourceID string

	OpcMonitoredItems []*OpcMonitoredItem
}

func newDataChangeSubscription(interval int, fromConfig bool) *OpcSubscription {
	return &OpcSubscription{
		RequestedPublishingInterval:  interval,
		PublishingIntervalFromConfig: fromConfig,
	}
}

func newEventSubscription(sourceID string, interval int, fromConfig bool) *OpcSubscription {
	return &OpcSubscription{
		RequestedPublishingInterval:  interval,
		PublishingIntervalFromConfig: fromConfig,
		EventSourceID:                sourceID,
	}
}

// FindItem scans for an item monitoring the given identity in either of its
// wire forms. Items pending removal are invisible to the lookup so a
// re-publish after unpublish creates a fresh item.
func (s *OpcSubscription) FindItem(id, counterpart string) *OpcMonitoredItem {
	for _, mi := range s.OpcMonitoredItems {
		if mi.State == ItemStateRemovalRequested {
			continue
		}
		if mi.Matches(id, counterpart) {
			return mi
		}
	}
	return nil
}

// AddItem appends an item; insertion order is persistence order.
func (s *OpcSubscription) AddItem(mi *OpcMonitoredItem) {
	s.OpcMonitoredItems = append(s.OpcMonitoredItems, mi)
}

// CountConfigured counts items not pending removal.
func (s *OpcSubscription) CountConfigured() int {
	n := 0
	for _, mi := range s.OpcMonitoredItems {
		if mi.State != ItemStateRemovalRequested {
			n++
		}
	}
	return n
}

// CountMonitored counts items the protocol stack confirmed.
func (s *OpcSubscription) CountMonitored() int {
	n := 0
	for _, mi := range s.OpcMonitoredItems {
		if mi.State == ItemStateMonitored {
			n++
		}
	}
	return n
}

// CountToRemove counts items pending removal.
func (s *OpcSubscription) CountToRemove() int {
	n := 0
	for _, mi := range s.OpcMonitoredItems {
		if mi.State == ItemStateRemovalRequested {
			n++
		}
	}
	return n
}

// PruneRemoved drops items pending removal from the collection, stopping
// their heartbeat timers, and returns the removed items. Runs during the
// reconciliation pass under the session lock.
func (s *OpcSubscription) PruneRemoved() []*OpcMonitoredItem {
	var removed []*OpcMonitoredItem
	kept := s.OpcMonitoredItems[:0]
	for _, mi := range s.OpcMonitoredItems {
		if mi.State == ItemStateRemovalRequested {
			mi.StopHeartbeat()
			removed = append(removed, mi)
			continue
		}
		kept = append(kept, mi)
	}
	s.OpcMonitoredItems = kept
	return removed
}
