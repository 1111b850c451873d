package social

// Merge folds other's follow/mute lists into g, per user taking whichever
// side's list is newer by its own createdAt timestamp, then recalculates
// follow distances against the merged edge set. g and other are locked
// independently to avoid a lock-ordering deadlock between two graphs.
func (g *Graph) Merge(other *Graph) {
	other.mu.RLock()
	type snapshot struct {
		pubkey    string
		targets   []string
		createdAt int64
	}
	var follows, mutes []snapshot
	for uid, createdAt := range other.followListCreatedAt {
		pk := other.pubkeyOf[uid]
		targets := make([]string, 0, len(other.follows[uid]))
		for t := range other.follows[uid] {
			targets = append(targets, other.pubkeyOf[t])
		}
		follows = append(follows, snapshot{pk, targets, createdAt})
	}
	for uid, createdAt := range other.muteListCreatedAt {
		pk := other.pubkeyOf[uid]
		targets := make([]string, 0, len(other.mutes[uid]))
		for t := range other.mutes[uid] {
			targets = append(targets, other.pubkeyOf[t])
		}
		mutes = append(mutes, snapshot{pk, targets, createdAt})
	}
	other.mu.RUnlock()

	g.mu.Lock()
	for _, s := range follows {
		owner := g.internLocked(s.pubkey)
		if ts, ok := g.followListCreatedAt[owner]; ok && ts >= s.createdAt {
			continue
		}
		g.setFollowListLocked(owner, s.targets, s.createdAt)
	}
	for _, s := range mutes {
		owner := g.internLocked(s.pubkey)
		if ts, ok := g.muteListCreatedAt[owner]; ok && ts >= s.createdAt {
			continue
		}
		g.setMuteListLocked(owner, s.targets, s.createdAt)
	}
	g.mu.Unlock()

	<-g.RecalculateFollowDistances(512, 0, nil)
}
