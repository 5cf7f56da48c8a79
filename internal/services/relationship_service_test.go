package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/events"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/asakaida/kizuna/internal/services/discovery"
)

var errBackend = errors.New("connection refused")

func newTestService(store *memEdgeStore, profiles repositories.ProfileRepository) (*RelationshipService, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewRelationshipService(store, profiles, pub, nil), pub
}

func friendIDs(v *entities.RelationshipView) []string {
	ids := make([]string, 0, len(v.Friends))
	for _, f := range v.Friends {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestRelationshipService_SendRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: pending edgeを作成", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, pub := newTestService(store, staticProfiles())

		if err := svc.SendRequest(ctx, "A", "B"); err != nil {
			t.Fatalf("SendRequest() error = %v", err)
		}
		e := store.edge("A", "B")
		if e == nil || e.Status != entities.EdgeStatusPending {
			t.Fatalf("expected pending A->B, got %v", e)
		}
		if !reflect.DeepEqual(pub.types(), []events.Type{events.RequestSent}) {
			t.Errorf("events = %v, want [request.sent]", pub.types())
		}
	})

	t.Run("正常系: 二回送っても edge は一つ", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())

		if err := svc.SendRequest(ctx, "A", "B"); err != nil {
			t.Fatalf("first SendRequest() error = %v", err)
		}
		err := svc.SendRequest(ctx, "A", "B")
		if !errors.Is(err, entities.ErrAlreadyRequestedOrRelated) {
			t.Fatalf("second SendRequest() error = %v, want ErrAlreadyRequestedOrRelated", err)
		}
		if n := store.count("A", "B"); n != 1 {
			t.Errorf("edge count = %d, want 1", n)
		}
	})

	t.Run("異常系: 自分自身への申請はI/O前に拒否", func(t *testing.T) {
		store := newMemEdgeStore()
		store.insertHook = func(from, to string) error {
			t.Error("store must not be called")
			return nil
		}
		svc, _ := newTestService(store, staticProfiles())

		if err := svc.SendRequest(ctx, "A", "A"); !errors.Is(err, entities.ErrInvalidOperation) {
			t.Fatalf("SendRequest() error = %v, want ErrInvalidOperation", err)
		}
		if err := svc.SendRequest(ctx, "A", ""); !errors.Is(err, entities.ErrInvalidOperation) {
			t.Fatalf("SendRequest() error = %v, want ErrInvalidOperation", err)
		}
	})

	t.Run("異常系: store障害", func(t *testing.T) {
		store := newMemEdgeStore()
		store.insertHook = func(from, to string) error { return errBackend }
		svc, pub := newTestService(store, staticProfiles())

		err := svc.SendRequest(ctx, "A", "B")
		if !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("SendRequest() error = %v, want ErrUnavailable", err)
		}
		if len(pub.types()) != 0 {
			t.Errorf("no event expected on failure, got %v", pub.types())
		}
	})
}

func TestRelationshipService_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(newMemEdgeStore(), staticProfiles())

	view, err := svc.LoadView(ctx, "")
	if err != nil {
		t.Fatalf("LoadView() error = %v", err)
	}
	if len(view.Friends) != 0 || len(view.IncomingRequests) != 0 || len(view.OutgoingRequestTargets) != 0 {
		t.Errorf("expected empty view, got %+v", view)
	}

	calls := map[string]func() error{
		"SendRequest":      func() error { return svc.SendRequest(ctx, "", "B") },
		"CancelRequest":    func() error { return svc.CancelRequest(ctx, "", "B") },
		"RespondToRequest": func() error { return svc.RespondToRequest(ctx, "e1", "B", "", true) },
		"Reject":           func() error { return svc.Reject(ctx, "e1", "B", "") },
		"RemoveFriend":     func() error { return svc.RemoveFriend(ctx, "", "B") },
		"Status":           func() error { _, err := svc.Status(ctx, "", "B"); return err },
		"Audience":         func() error { _, err := svc.Audience(ctx, ""); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, entities.ErrUnauthenticated) {
			t.Errorf("%s() error = %v, want ErrUnauthenticated", name, err)
		}
	}
}

func TestRelationshipService_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 相互acceptedになる", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, pub := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)

		if err := svc.RespondToRequest(ctx, req.ID, "A", "B", true); err != nil {
			t.Fatalf("RespondToRequest() error = %v", err)
		}
		assertMutual(t, store, "A", "B")
		if !reflect.DeepEqual(pub.types(), []events.Type{events.RequestAccepted}) {
			t.Errorf("events = %v, want [request.accepted]", pub.types())
		}
	})

	t.Run("正常系: 再実行しても結果は同じ", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)

		for i := 0; i < 3; i++ {
			if err := svc.Accept(ctx, req.ID, "A", "B"); err != nil {
				t.Fatalf("Accept() #%d error = %v", i, err)
			}
		}
		assertMutual(t, store, "A", "B")
	})

	t.Run("正常系: pendingの逆方向edgeを修復", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)
		store.InsertEdge(ctx, "B", "A", entities.EdgeStatusPending)

		if err := svc.Accept(ctx, req.ID, "A", "B"); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		assertMutual(t, store, "A", "B")
	})

	t.Run("正常系: 処理の途中で中断された受諾の修復", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		// step 1 done, step 2 never ran
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusAccepted)

		if err := svc.Accept(ctx, req.ID, "A", "B"); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		assertMutual(t, store, "A", "B")
	})

	t.Run("異常系: 取り消し済みのリクエスト", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, pub := newTestService(store, staticProfiles())

		err := svc.Accept(ctx, "e404", "A", "B")
		if !errors.Is(err, entities.ErrRequestNoLongerExists) {
			t.Fatalf("Accept() error = %v, want ErrRequestNoLongerExists", err)
		}
		if store.edge("B", "A") != nil {
			t.Error("reciprocal edge must not be created for a stale request")
		}
		if len(pub.types()) != 0 {
			t.Errorf("no event expected, got %v", pub.types())
		}
	})

	t.Run("異常系: 参照後に送信者が取り消した", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)
		store.updateHook = func(id string) error {
			store.DeleteEdges(ctx, &repositories.EdgeFilter{ID: id})
			return nil
		}

		if err := svc.Accept(ctx, req.ID, "A", "B"); !errors.Is(err, entities.ErrRequestNoLongerExists) {
			t.Fatalf("Accept() error = %v, want ErrRequestNoLongerExists", err)
		}
	})

	t.Run("異常系: 他人宛てのリクエストは受諾できない", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "C", entities.EdgeStatusPending)

		if err := svc.Accept(ctx, req.ID, "A", "B"); !errors.Is(err, entities.ErrRequestNoLongerExists) {
			t.Fatalf("Accept() error = %v, want ErrRequestNoLongerExists", err)
		}
		if e := store.edge("A", "C"); e.Status != entities.EdgeStatusPending {
			t.Errorf("foreign request changed to %s", e.Status)
		}
	})

	t.Run("異常系: 逆方向edgeの挿入失敗", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)
		store.insertHook = func(from, to string) error { return errBackend }

		if err := svc.Accept(ctx, req.ID, "A", "B"); !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("Accept() error = %v, want ErrUnavailable", err)
		}
	})
}

func TestRelationshipService_ConcurrentAcceptRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)

		var wg sync.WaitGroup
		var acceptErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = svc.RespondToRequest(ctx, req.ID, "A", "B", true)
		}()
		go func() {
			defer wg.Done()
			// an independent process creating the reciprocal edge
			store.InsertEdge(ctx, "B", "A", entities.EdgeStatusAccepted)
		}()
		wg.Wait()

		if acceptErr != nil {
			t.Fatalf("iteration %d: RespondToRequest() error = %v", i, acceptErr)
		}
		assertMutual(t, store, "A", "B")
	}
}

func TestRelationshipService_CrossingAccepts(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		ab, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)
		ba, _ := store.InsertEdge(ctx, "B", "A", entities.EdgeStatusPending)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = svc.Accept(ctx, ab.ID, "A", "B") }()
		go func() { defer wg.Done(); errs[1] = svc.Accept(ctx, ba.ID, "B", "A") }()
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				t.Fatalf("iteration %d: Accept() error = %v", i, err)
			}
		}
		assertMutual(t, store, "A", "B")
	}
}

func TestRelationshipService_Reject(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 受信リクエストを削除", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, pub := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)

		if err := svc.RespondToRequest(ctx, req.ID, "A", "B", false); err != nil {
			t.Fatalf("RespondToRequest() error = %v", err)
		}
		if store.edge("A", "B") != nil || store.edge("B", "A") != nil {
			t.Error("expected no edges after reject")
		}
		if !reflect.DeepEqual(pub.types(), []events.Type{events.RequestRejected}) {
			t.Errorf("events = %v, want [request.rejected]", pub.types())
		}
	})

	t.Run("正常系: 存在しないリクエストはno-op", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, pub := newTestService(store, staticProfiles())

		if err := svc.Reject(ctx, "e404", "A", "B"); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if len(pub.types()) != 0 {
			t.Errorf("no event expected, got %v", pub.types())
		}
	})

	t.Run("正常系: 拒否後に再申請できる", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)

		if err := svc.Reject(ctx, req.ID, "A", "B"); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if err := svc.SendRequest(ctx, "A", "B"); err != nil {
			t.Fatalf("SendRequest() after reject error = %v", err)
		}
	})

	t.Run("正常系: accepted edgeは拒否で消えない", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles())
		req, _ := store.InsertEdge(ctx, "A", "B", entities.EdgeStatusAccepted)

		if err := svc.Reject(ctx, req.ID, "A", "B"); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if store.edge("A", "B") == nil {
			t.Error("accepted edge must survive a stale reject")
		}
	})

	t.Run("異常系: store障害", func(t *testing.T) {
		store := newMemEdgeStore()
		store.deleteHook = func(*repositories.EdgeFilter) error { return errBackend }
		svc, _ := newTestService(store, staticProfiles())

		if err := svc.Reject(ctx, "e1", "A", "B"); !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("Reject() error = %v, want ErrUnavailable", err)
		}
	})
}

func TestRelationshipService_RemoveFriend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		seed [][2]string
	}{
		{name: "both edges", seed: [][2]string{{"A", "B"}, {"B", "A"}}},
		{name: "only outbound left", seed: [][2]string{{"A", "B"}}},
		{name: "only inbound left", seed: [][2]string{{"B", "A"}}},
		{name: "nothing left", seed: nil},
	}

	for _, tt := range tests {
		t.Run("正常系: "+tt.name, func(t *testing.T) {
			store := newMemEdgeStore()
			svc, _ := newTestService(store, staticProfiles())
			for _, p := range tt.seed {
				store.InsertEdge(ctx, p[0], p[1], entities.EdgeStatusAccepted)
			}
			store.InsertEdge(ctx, "A", "C", entities.EdgeStatusAccepted)

			if err := svc.RemoveFriend(ctx, "A", "B"); err != nil {
				t.Fatalf("RemoveFriend() error = %v", err)
			}
			if store.edge("A", "B") != nil || store.edge("B", "A") != nil {
				t.Error("expected both directions removed")
			}
			if store.edge("A", "C") == nil {
				t.Error("unrelated edge removed")
			}
		})
	}

	t.Run("正常系: 削除順は current->other が先", func(t *testing.T) {
		store := newMemEdgeStore()
		var order []string
		store.deleteHook = func(f *repositories.EdgeFilter) error {
			order = append(order, f.FromUser+"->"+f.ToUser)
			return nil
		}
		svc, _ := newTestService(store, staticProfiles())

		if err := svc.RemoveFriend(ctx, "A", "B"); err != nil {
			t.Fatalf("RemoveFriend() error = %v", err)
		}
		if !reflect.DeepEqual(order, []string{"A->B", "B->A"}) {
			t.Errorf("delete order = %v", order)
		}
	})

	t.Run("異常系: 二つ目の削除で障害、再実行で修復", func(t *testing.T) {
		store := newMemEdgeStore()
		store.InsertEdge(ctx, "A", "B", entities.EdgeStatusAccepted)
		store.InsertEdge(ctx, "B", "A", entities.EdgeStatusAccepted)
		calls := 0
		store.deleteHook = func(*repositories.EdgeFilter) error {
			calls++
			if calls == 2 {
				return errBackend
			}
			return nil
		}
		svc, _ := newTestService(store, staticProfiles())

		if err := svc.RemoveFriend(ctx, "A", "B"); !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("RemoveFriend() error = %v, want ErrUnavailable", err)
		}
		if err := svc.RemoveFriend(ctx, "A", "B"); err != nil {
			t.Fatalf("retry RemoveFriend() error = %v", err)
		}
		if store.edge("A", "B") != nil || store.edge("B", "A") != nil {
			t.Error("expected both directions removed after retry")
		}
	})
}

func TestRelationshipService_CancelRequest(t *testing.T) {
	ctx := context.Background()
	store := newMemEdgeStore()
	svc, pub := newTestService(store, staticProfiles())

	store.InsertEdge(ctx, "A", "B", entities.EdgeStatusPending)
	store.InsertEdge(ctx, "A", "C", entities.EdgeStatusAccepted)

	if err := svc.CancelRequest(ctx, "A", "B"); err != nil {
		t.Fatalf("CancelRequest() error = %v", err)
	}
	if err := svc.CancelRequest(ctx, "A", "B"); err != nil {
		t.Fatalf("second CancelRequest() error = %v", err)
	}
	if err := svc.CancelRequest(ctx, "A", "C"); err != nil {
		t.Fatalf("CancelRequest() on accepted error = %v", err)
	}

	if store.edge("A", "B") != nil {
		t.Error("pending request not cancelled")
	}
	if store.edge("A", "C") == nil {
		t.Error("accepted edge must not be cancelled")
	}
	if !reflect.DeepEqual(pub.types(), []events.Type{events.RequestCancelled}) {
		t.Errorf("events = %v, want one request.cancelled", pub.types())
	}
}

func TestRelationshipService_LoadView(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 三つの集合を合成", func(t *testing.T) {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles("A", "B", "C", "D", "E", "F"))
		store.InsertEdge(ctx, "A", "B", entities.EdgeStatusAccepted)
		store.InsertEdge(ctx, "B", "A", entities.EdgeStatusAccepted)
		in, _ := store.InsertEdge(ctx, "C", "A", entities.EdgeStatusPending)
		store.InsertEdge(ctx, "A", "D", entities.EdgeStatusPending)
		// lone accepted edge: never a friend
		store.InsertEdge(ctx, "A", "E", entities.EdgeStatusAccepted)
		store.InsertEdge(ctx, "F", "A", entities.EdgeStatusAccepted)

		view, err := svc.LoadView(ctx, "A")
		if err != nil {
			t.Fatalf("LoadView() error = %v", err)
		}
		if !reflect.DeepEqual(friendIDs(view), []string{"B"}) {
			t.Errorf("friends = %v, want [B]", friendIDs(view))
		}
		if len(view.IncomingRequests) != 1 || view.IncomingRequests[0].EdgeID != in.ID || view.IncomingRequests[0].Sender.Username != "name_C" {
			t.Errorf("incoming = %+v", view.IncomingRequests)
		}
		if !view.HasOutgoingTo("D") || len(view.OutgoingRequestTargets) != 1 {
			t.Errorf("outgoing = %v, want {D}", view.OutgoingRequestTargets)
		}
	})

	t.Run("異常系: 一つのクエリ失敗で全体が失敗", func(t *testing.T) {
		store := newMemEdgeStore()
		store.queryHook = func(f *repositories.EdgeFilter) error {
			if f.Status == entities.EdgeStatusPending && f.ToUser != "" {
				return errBackend
			}
			return nil
		}
		svc, _ := newTestService(store, staticProfiles("A"))

		view, err := svc.LoadView(ctx, "A")
		if !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("LoadView() error = %v, want ErrUnavailable", err)
		}
		if view != nil {
			t.Error("no partial view may be returned")
		}
	})

	t.Run("異常系: 送信者プロフィール欠落", func(t *testing.T) {
		store := newMemEdgeStore()
		store.InsertEdge(ctx, "ghost", "A", entities.EdgeStatusPending)
		svc, _ := newTestService(store, staticProfiles("A"))

		if _, err := svc.LoadView(ctx, "A"); !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("LoadView() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("異常系: 不正なプロフィール", func(t *testing.T) {
		store := newMemEdgeStore()
		store.InsertEdge(ctx, "C", "A", entities.EdgeStatusPending)
		profiles := &mockProfileRepository{
			getByIDsFunc: func(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
				return map[string]*entities.Profile{"C": {ID: "C"}}, nil
			},
		}
		svc, _ := newTestService(store, profiles)

		if _, err := svc.LoadView(ctx, "A"); !errors.Is(err, entities.ErrUnavailable) {
			t.Fatalf("LoadView() error = %v, want ErrUnavailable", err)
		}
	})
}

// The end-to-end request/accept flow between u1 and u2
func TestRelationshipService_Scenario(t *testing.T) {
	ctx := context.Background()
	store := newMemEdgeStore()
	svc, _ := newTestService(store, staticProfiles("u1", "u2"))

	if err := svc.SendRequest(ctx, "u1", "u2"); err != nil {
		t.Fatalf("SendRequest(u1, u2) error = %v", err)
	}
	e := store.edge("u1", "u2")
	if e == nil || e.Status != entities.EdgeStatusPending {
		t.Fatalf("expected pending u1->u2, got %v", e)
	}

	viewB, err := svc.LoadView(ctx, "u2")
	if err != nil {
		t.Fatalf("LoadView(u2) error = %v", err)
	}
	if len(viewB.IncomingRequests) != 1 || viewB.IncomingRequests[0].Sender.ID != "u1" {
		t.Fatalf("u2 incoming = %+v, want [u1]", viewB.IncomingRequests)
	}

	if err := svc.RespondToRequest(ctx, viewB.IncomingRequests[0].EdgeID, "u1", "u2", true); err != nil {
		t.Fatalf("RespondToRequest() error = %v", err)
	}
	assertMutual(t, store, "u1", "u2")

	for user, other := range map[string]string{"u1": "u2", "u2": "u1"} {
		view, err := svc.LoadView(ctx, user)
		if err != nil {
			t.Fatalf("LoadView(%s) error = %v", user, err)
		}
		if !reflect.DeepEqual(friendIDs(view), []string{other}) {
			t.Errorf("%s friends = %v, want [%s]", user, friendIDs(view), other)
		}
		if len(view.IncomingRequests) != 0 || len(view.OutgoingRequestTargets) != 0 {
			t.Errorf("%s has leftover requests: %+v", user, view)
		}
	}
}

type seedEdge struct {
	from, to string
	status   entities.EdgeStatus
}

func TestRelationshipService_Status(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		seed []seedEdge
		want entities.RelationshipStatus
	}{
		{name: "none", want: entities.RelationshipNone},
		{name: "outgoing", seed: []seedEdge{{"A", "B", entities.EdgeStatusPending}}, want: entities.RelationshipOutgoing},
		{name: "incoming", seed: []seedEdge{{"B", "A", entities.EdgeStatusPending}}, want: entities.RelationshipIncoming},
		{name: "friends", seed: []seedEdge{{"A", "B", entities.EdgeStatusAccepted}, {"B", "A", entities.EdgeStatusAccepted}}, want: entities.RelationshipFriends},
		{name: "lone accepted outbound", seed: []seedEdge{{"A", "B", entities.EdgeStatusAccepted}}, want: entities.RelationshipOutgoing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemEdgeStore()
			svc, _ := newTestService(store, staticProfiles())
			for _, s := range tt.seed {
				store.InsertEdge(ctx, s.from, s.to, s.status)
			}

			got, err := svc.Status(ctx, "A", "B")
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}

	svc, _ := newTestService(newMemEdgeStore(), staticProfiles())
	if _, err := svc.Status(ctx, "A", "A"); !errors.Is(err, entities.ErrInvalidOperation) {
		t.Errorf("Status(self) error = %v, want ErrInvalidOperation", err)
	}
}

func TestRelationshipService_Audience(t *testing.T) {
	ctx := context.Background()
	store := newMemEdgeStore()
	svc, _ := newTestService(store, staticProfiles())

	store.InsertEdge(ctx, "A", "B", entities.EdgeStatusAccepted)
	store.InsertEdge(ctx, "B", "A", entities.EdgeStatusAccepted)
	store.InsertEdge(ctx, "A", "C", entities.EdgeStatusAccepted)
	store.InsertEdge(ctx, "D", "A", entities.EdgeStatusPending)

	got, err := svc.Audience(ctx, "A")
	if err != nil {
		t.Fatalf("Audience() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Audience() = %v, want [A B]", got)
	}
}

func TestRelationshipService_PublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemEdgeStore()
	pub := &recordingPublisher{err: errors.New("nats down")}
	svc := NewRelationshipService(store, staticProfiles(), pub, nil)

	if err := svc.SendRequest(ctx, "A", "B"); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if len(pub.types()) != 1 {
		t.Errorf("expected a publish attempt, got %v", pub.types())
	}
}

// stallingPublisher blocks until its context ends, like a broker that never acks
type stallingPublisher struct {
	deadline chan bool
}

func (p *stallingPublisher) Publish(ctx context.Context, event events.Event) error {
	_, ok := ctx.Deadline()
	p.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestRelationshipService_SlowPublisherIsBounded(t *testing.T) {
	ctx := context.Background()
	store := newMemEdgeStore()
	pub := &stallingPublisher{deadline: make(chan bool, 1)}
	svc := NewRelationshipService(store, staticProfiles(), pub, nil)
	svc.publishTimeout = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- svc.SendRequest(ctx, "A", "B") }()

	if hasDeadline := <-pub.deadline; !hasDeadline {
		t.Error("expected publish to run under a deadline")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendRequest() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendRequest() stalled on the publisher")
	}
	if edges, _ := store.QueryEdges(context.Background(), &repositories.EdgeFilter{FromUser: "A", ToUser: "B"}); len(edges) != 1 {
		t.Errorf("expected the request to be stored, got %v", edges)
	}
}

// No search result may contain the viewer, a friend, or anyone with a pending
// request in either direction, whatever the graph looks like.
func TestExclusionCorrectness(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	users := make([]string, 12)
	for i := range users {
		users[i] = fmt.Sprintf("u%02d", i)
	}

	for round := 0; round < 20; round++ {
		store := newMemEdgeStore()
		svc, _ := newTestService(store, staticProfiles(users...))
		for i := 0; i < 25; i++ {
			from, to := users[rng.Intn(len(users))], users[rng.Intn(len(users))]
			if from == to {
				continue
			}
			switch rng.Intn(3) {
			case 0:
				svc.SendRequest(ctx, from, to)
			case 1:
				store.InsertEdge(ctx, from, to, entities.EdgeStatusAccepted)
				store.InsertEdge(ctx, to, from, entities.EdgeStatusAccepted)
			default:
				store.InsertEdge(ctx, from, to, entities.EdgeStatusAccepted)
			}
		}

		viewer := users[rng.Intn(len(users))]
		view, err := svc.LoadView(ctx, viewer)
		if err != nil {
			t.Fatalf("round %d: LoadView() error = %v", round, err)
		}

		// the store ignores ExcludeIDs, so only the engine's recheck protects us
		engine := discovery.NewEngine(staticProfiles(users...), discovery.WithLimit(len(users)))
		results, err := engine.Search(ctx, "name", view.ExclusionSet(viewer, nil))
		if err != nil {
			t.Fatalf("round %d: Search() error = %v", round, err)
		}

		for _, p := range results {
			if p.ID == viewer || view.IsFriend(p.ID) || view.HasIncomingFrom(p.ID) || view.HasOutgoingTo(p.ID) {
				t.Fatalf("round %d: %s leaked into %s's search results", round, p.ID, viewer)
			}
		}
	}
}

func assertMutual(t *testing.T, store *memEdgeStore, a, b string) {
	t.Helper()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if n := store.count(pair[0], pair[1]); n != 1 {
			t.Fatalf("%s->%s: %d edges, want exactly 1", pair[0], pair[1], n)
		}
		if e := store.edge(pair[0], pair[1]); e.Status != entities.EdgeStatusAccepted {
			t.Fatalf("%s->%s: status %s, want accepted", pair[0], pair[1], e.Status)
		}
	}
}
