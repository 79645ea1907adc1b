// Copyright 2024 The Trustkeel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/trustkeel/trustkeel/metadata"
	"github.com/trustkeel/trustkeel/metadata/truststore"
)

// edgeVisit is one queued step of the delegation walk: the edge to load
// and whether the delegation declaring it is terminating.
type edgeVisit struct {
	edge        truststore.Edge
	terminating bool
}

// resolveTarget interrogates the graph of target delegations in order of
// appearance, which implicitly orders trustworthiness, and returns the
// target description found in the most trusted role.
//
// The walk is pre-order and depth-first over delegation edges, not role
// names: the same child reached through a second parent is a new edge
// with its own keys, not a cycle. A verification failure on one edge
// disqualifies only that edge, siblings are still tried, but an
// exhausted search after any failure reports ErrTargetUnavailable
// instead of ErrTargetNotFound. A terminating delegation confines the
// rest of the search to its own subtree: its failure, or its subtree
// running out, denies the target outright.
func (eng *Engine) resolveTarget(ctx context.Context, targetPath string) (*metadata.TargetFiles, error) {
	log := metadata.GetLogger()
	toVisit := []edgeVisit{{edge: truststore.Edge{Parent: metadata.ROOT, Child: metadata.TARGETS}}}
	visited := map[truststore.Edge]bool{}
	degraded := false
	terminated := false
	remaining := eng.cfg.MaxDelegations
	for remaining > 0 && len(toVisit) > 0 {
		// pop the edge from the top of the stack
		v := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		// skip a visited edge to prevent cycles
		if visited[v.edge] {
			log.Info("Skipping visited edge", "role", v.edge.Child, "parent", v.edge.Parent)
			continue
		}
		role, err := eng.loadEdge(ctx, v.edge)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, err
			}
			log.Info("Delegation edge failed verification", "role", v.edge.Child, "parent", v.edge.Parent, "err", err)
			if v.terminating {
				return nil, &metadata.ErrTargetUnavailable{Target: targetPath}
			}
			degraded = true
			visited[v.edge] = true
			remaining--
			continue
		}
		if target := role.Signed.Targets[targetPath]; target != nil {
			log.Info("Found target in current role", "role", v.edge.Child)
			return target, nil
		}
		// after the pre-order check, count the edge as visited
		visited[v.edge] = true
		remaining--
		if role.Signed.Delegations == nil {
			continue
		}
		var children []edgeVisit
		for _, child := range role.Signed.Delegations.GetRolesForTarget(targetPath) {
			children = append(children, edgeVisit{
				edge:        truststore.Edge{Parent: v.edge.Child, Child: child.Name},
				terminating: child.Terminating,
			})
			if child.Terminating {
				// confine the search to this parent's children up to here
				log.Info("Not backtracking past terminating role", "role", child.Name)
				toVisit = nil
				terminated = true
				break
			}
		}
		// push in reverse order so edges pop in declared order
		slices.Reverse(children)
		toVisit = append(toVisit, children...)
	}
	if remaining <= 0 && len(toVisit) > 0 {
		log.Info("Delegation budget exhausted", "left", len(toVisit), "max", eng.cfg.MaxDelegations)
		degraded = true
	}
	if degraded || terminated {
		return nil, &metadata.ErrTargetUnavailable{Target: targetPath}
	}
	return nil, &metadata.ErrTargetNotFound{Target: targetPath}
}

// loadEdge returns verified metadata for the child role of edge, loading
// and verifying it on demand when this edge has not been walked under
// the current snapshot generation.
func (eng *Engine) loadEdge(ctx context.Context, edge truststore.Edge) (*metadata.Metadata[metadata.TargetsType], error) {
	if edge.Parent == metadata.ROOT {
		if md := eng.trust.Current().Targets; md != nil {
			return md, nil
		}
		return nil, &metadata.ErrRuntime{Msg: "cannot resolve targets before refresh"}
	}
	if md, ok := eng.trust.Delegated(edge); ok {
		return md, nil
	}
	return eng.loadTargetsRole(ctx, edge)
}
