package social

import "testing"

func followEvent(pubkey string, createdAt int64, targets ...string) Event {
	tags := make([][]string, 0, len(targets))
	for _, t := range targets {
		tags = append(tags, []string{"p", t})
	}
	return Event{Kind: KindFollowList, PubKey: pubkey, CreatedAt: createdAt, Tags: tags}
}

func muteEvent(pubkey string, createdAt int64, targets ...string) Event {
	tags := make([][]string, 0, len(targets))
	for _, t := range targets {
		tags = append(tags, []string{"p", t})
	}
	return Event{Kind: KindMuteList, PubKey: pubkey, CreatedAt: createdAt, Tags: tags}
}

func TestHandleEventBuildsFollowGraphAndDistances(t *testing.T) {
	g := New("root")
	if !g.HandleEvent(followEvent("root", 1, "a", "b"), true, 2) {
		t.Fatal("root's own follow list should be admitted")
	}
	if !g.HandleEvent(followEvent("a", 2, "c"), true, 2) {
		t.Fatal("a's follow list should be admitted")
	}
	<-g.RecalculateFollowDistances(64, 0, nil)

	if d := g.GetFollowDistance("a"); d != 1 {
		t.Fatalf("distance(a) = %d, want 1", d)
	}
	if d := g.GetFollowDistance("c"); d != 2 {
		t.Fatalf("distance(c) = %d, want 2", d)
	}
	if d := g.GetFollowDistance("nobody"); d != Unreachable {
		t.Fatalf("distance(nobody) = %d, want Unreachable", d)
	}
}

func TestHandleEventRejectsStaleTimestamp(t *testing.T) {
	g := New("root")
	g.HandleEvent(followEvent("root", 10, "a"), true, 2)
	if g.HandleEvent(followEvent("root", 5, "b"), true, 2) {
		t.Fatal("an older createdAt must be rejected")
	}
	if g.HandleEvent(followEvent("root", 10, "b"), true, 2) {
		t.Fatal("an equal createdAt must be rejected")
	}
	if !g.HandleEvent(followEvent("root", 11, "b"), true, 2) {
		t.Fatal("a newer createdAt must be admitted")
	}
}

func TestHandleEventRejectsUnknownAuthorUnlessAllowed(t *testing.T) {
	g := New("root")
	if g.HandleEvent(followEvent("stranger", 1, "a"), false, 2) {
		t.Fatal("unknown author must be rejected when allowUnknownAuthor is false")
	}
	if !g.HandleEvent(followEvent("stranger", 1, "a"), true, 2) {
		t.Fatal("unknown author must be admitted when allowUnknownAuthor is true")
	}
}

func TestIsOvermutedRootNeverOvermuted(t *testing.T) {
	g := New("root")
	if g.IsOvermuted("root", 0.01) {
		t.Fatal("root must never be overmuted")
	}
}

func TestIsOvermutedByRootIsAlwaysOvermuted(t *testing.T) {
	g := New("root")
	g.HandleEvent(muteEvent("root", 1, "victim"), true, 1000000)
	if !g.IsOvermuted("victim", 1000000) {
		t.Fatal("being muted by root must always be overmuted regardless of threshold")
	}
}

func TestIsOvermutedThresholdComparesAtNearestDistance(t *testing.T) {
	g := New("root")
	g.HandleEvent(followEvent("root", 1, "f1", "f2", "m1"), true, 2)
	<-g.RecalculateFollowDistances(64, 0, nil)

	g.HandleEvent(followEvent("f1", 2, "victim"), true, 2)
	g.HandleEvent(followEvent("f2", 2, "victim"), true, 2)
	g.HandleEvent(muteEvent("m1", 2, "victim"), true, 2)
	<-g.RecalculateFollowDistances(64, 0, nil)

	if g.IsOvermuted("victim", 2) {
		t.Fatal("1 muter * 2 = 2, not > 2 followers, should not be overmuted")
	}
	if !g.IsOvermuted("victim", 3) {
		t.Fatal("1 muter * 3 = 3 > 2 followers, should be overmuted")
	}
}

func TestHasFollowers(t *testing.T) {
	g := New("root")
	if g.HasFollowers("nobody") {
		t.Fatal("unknown user should report no followers")
	}
	g.HandleEvent(followEvent("root", 1, "a"), true, 2)
	if !g.HasFollowers("a") {
		t.Fatal("a should have root as a follower")
	}
}

func TestAddFollowerRelaxesDistanceImmediately(t *testing.T) {
	g := New("root")
	g.AddFollower("root", "a")
	if d := g.GetFollowDistance("a"); d != 1 {
		t.Fatalf("distance(a) after AddFollower = %d, want 1", d)
	}
	g.AddFollower("a", "b")
	if d := g.GetFollowDistance("b"); d != 2 {
		t.Fatalf("distance(b) after chained AddFollower = %d, want 2", d)
	}
}

func TestRemoveFollowerRecomputesDistance(t *testing.T) {
	g := New("root")
	g.AddFollower("root", "a")
	g.AddFollower("root", "b")
	g.AddFollower("b", "a") // a also reachable via b at distance 2, redundant here
	g.RemoveFollower("root", "a")
	if d := g.GetFollowDistance("a"); d != 2 {
		t.Fatalf("distance(a) after removing the direct edge = %d, want 2 via b", d)
	}
}

func TestPruneOvermutedUsersRemovesAtAscendingDistance(t *testing.T) {
	g := New("root")
	g.HandleEvent(muteEvent("root", 1, "victim"), true, 1000000)
	g.HandleEvent(followEvent("root", 1, "victim"), true, 1000000)
	<-g.RecalculateFollowDistances(64, 0, nil)

	removed := g.PruneOvermutedUsers(1000000)
	if removed != 1 {
		t.Fatalf("PruneOvermutedUsers removed %d, want 1", removed)
	}
	if g.HasFollowers("victim") {
		t.Fatal("victim's edges should be gone after pruning")
	}
}
