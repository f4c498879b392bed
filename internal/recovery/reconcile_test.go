package recovery

import (
	"testing"

	"Ferry/internal/protocol"
)

func digest(seq uint64, h string) protocol.Digest {
	return protocol.Digest{Sequence: seq, RequestHash: []byte(h)}
}

func TestReconcile(t *testing.T) {
	hist := []protocol.Digest{digest(1, "p"), digest(2, "c")}

	tests := []struct {
		name string
		role protocol.Role
		self protocol.View
		peer protocol.View
		want Decision
	}{
		{
			name: "peer aborted",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3},
			peer: protocol.View{Stage: protocol.StageAborted, Sequence: 2},
			want: Follow,
		},
		{
			name: "peer rejected",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageProposed, Pending: 1},
			peer: protocol.View{Stage: protocol.StageRejected, Sequence: 1},
			want: Follow,
		},
		{
			name: "peer committed while committing",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageCommitting, Sequence: 4, Pending: 5, History: hist},
			peer: protocol.View{Stage: protocol.StageCommitted, Sequence: 5, History: hist},
			want: Adopt,
		},
		{
			name: "peer committed early",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageAsserting, Sequence: 3, Pending: 3},
			peer: protocol.View{Stage: protocol.StageCommitted, Sequence: 5},
			want: Diverge,
		},
		{
			name: "proposal never arrived",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageProposed, Pending: 1},
			peer: protocol.View{Stage: protocol.StageInit},
			want: Resume,
		},
		{
			name: "server forgot accepted session",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageLocking, Sequence: 2, Pending: 2},
			peer: protocol.View{Stage: protocol.StageInit},
			want: Diverge,
		},
		{
			name: "client request unanswered",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3, History: hist},
			peer: protocol.View{Stage: protocol.StageLocking, Sequence: 2, History: hist},
			want: Resume,
		},
		{
			name: "reply lost",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3, History: hist},
			peer: protocol.View{Stage: protocol.StageAsserting, Sequence: 3, History: append(hist, digest(3, "r"))},
			want: Resume,
		},
		{
			name: "server ahead of pending",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StageProposed, Pending: 1},
			peer: protocol.View{Stage: protocol.StageLocking, Sequence: 2},
			want: Diverge,
		},
		{
			name: "server behind",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3},
			peer: protocol.View{Stage: protocol.StageCommencing, Sequence: 1},
			want: Diverge,
		},
		{
			name: "digest mismatch",
			role: protocol.RoleClient,
			self: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3, History: hist},
			peer: protocol.View{Stage: protocol.StageLocking, Sequence: 2, History: []protocol.Digest{digest(1, "p"), digest(2, "x")}},
			want: Diverge,
		},
		{
			name: "server side agrees",
			role: protocol.RoleServer,
			self: protocol.View{Stage: protocol.StageLocking, Sequence: 2, History: hist},
			peer: protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3, History: hist},
			want: Resume,
		},
		{
			name: "server side ahead",
			role: protocol.RoleServer,
			self: protocol.View{Stage: protocol.StageCommitting, Sequence: 4},
			peer: protocol.View{Stage: protocol.StageLocking, Sequence: 2, Pending: 2},
			want: Diverge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reconcile(tt.role, tt.self, tt.peer); got != tt.want {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcileSymmetric(t *testing.T) {
	client := protocol.View{Stage: protocol.StagePreparing, Sequence: 2, Pending: 3}
	server := protocol.View{Stage: protocol.StageLocking, Sequence: 2}

	a := Reconcile(protocol.RoleClient, client, server)
	b := Reconcile(protocol.RoleServer, server, client)

	if a != b {
		t.Errorf("client decided %v, server decided %v", a, b)
	}
}

func TestBudget(t *testing.T) {
	if got := budget(0, 0); got <= 0 {
		t.Errorf("budget(0, 0) = %v, want default", got)
	}

	if got := budget(100, 3); got != 300 {
		t.Errorf("budget(100, 3) = %v, want 300", got)
	}
}
