// Package dedupe clusters canonical contacts by shared blocking keys
// and merges each cluster into one contact, recording every displaced
// value as a conflict with provenance.
package dedupe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bettervcard/vcardkit/internal/core/model"
	"github.com/bettervcard/vcardkit/internal/vcard"
)

// Engine holds the contact arena and the open-cluster index. It is a
// single-writer structure: Add and flush calls must come from one
// goroutine; Snapshot gives readers a frozen view.
type Engine struct {
	arena  []*model.CanonicalContact
	uf     *unionFind
	keys   [][]model.ClusterKey
	owner  map[model.ClusterKey]int // first contact seen with each key
	closed map[int]bool             // roots already flushed
}

// New builds an empty engine for one run.
func New() *Engine {
	return &Engine{
		uf:     newUnionFind(),
		owner:  map[model.ClusterKey]int{},
		closed: map[int]bool{},
	}
}

// Keys derives every blocking key of a contact. Only the four
// clustering kinds (email, phone, uid, name+org) can join clusters;
// address and photo-hash keys exist for merge-reason citation.
func Keys(c *model.CanonicalContact) []model.ClusterKey {
	var ks []model.ClusterKey
	for _, e := range c.Emails {
		ks = append(ks, model.ClusterKey{Kind: model.KeyEmail, Value: strings.ToLower(e.Value)})
	}
	for _, p := range c.Phones {
		if p.E164 {
			ks = append(ks, model.ClusterKey{Kind: model.KeyPhone, Value: p.Value})
		}
	}
	if c.UID != "" {
		ks = append(ks, model.ClusterKey{Kind: model.KeyUID, Value: c.UID})
	}
	if fp := nameOrgFingerprint(c); fp != "" {
		ks = append(ks, model.ClusterKey{Kind: model.KeyNameOrg, Value: fp})
	}
	for _, a := range c.Addresses {
		if v := addressFingerprint(a); v != "" {
			ks = append(ks, model.ClusterKey{Kind: model.KeyAddress, Value: v})
		}
	}
	for _, ph := range c.Photos {
		if ph.Hash != "" {
			ks = append(ks, model.ClusterKey{Kind: model.KeyPhotoHash, Value: ph.Hash})
		}
	}
	return ks
}

func clusteringKey(k model.ClusterKey) bool {
	switch k.Kind {
	case model.KeyEmail, model.KeyPhone, model.KeyUID, model.KeyNameOrg:
		return true
	}
	return false
}

// nameOrgFingerprint is the lower-cased, whitespace-collapsed full name
// joined with the organization. Contacts without a display name get no
// fingerprint.
func nameOrgFingerprint(c *model.CanonicalContact) string {
	name := collapse(strings.ToLower(c.FormattedName))
	if name == "" {
		return ""
	}
	org := collapse(strings.ToLower(strings.Join(c.Org, " ")))
	return name + "|" + org
}

func addressFingerprint(a model.Address) string {
	parts := []string{a.Street, a.City, a.Region, a.Postal, a.Country}
	return collapse(strings.ToLower(strings.Join(parts, " ")))
}

// collapse trims and squeezes runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Add inserts a contact and unions it with every earlier contact
// sharing a clustering key.
func (e *Engine) Add(c *model.CanonicalContact) {
	idx := e.uf.add()
	e.arena = append(e.arena, c)
	ks := Keys(c)
	e.keys = append(e.keys, ks)
	for _, k := range ks {
		if !clusteringKey(k) {
			continue
		}
		if prev, ok := e.owner[k]; ok {
			e.uf.union(idx, prev)
		} else {
			e.owner[k] = idx
		}
	}
}

// FlushClosed merges and returns the clusters that can no longer grow:
// every clustering key of every member was last seen in a chunk <=
// current, per the key-presence pre-pass. Flushed clusters leave the
// open index.
func (e *Engine) FlushClosed(current int, lastChunk map[model.ClusterKey]int) ([]*model.CanonicalContact, []model.MergeDecision, []model.Finding) {
	return e.flush(func(members []int) bool {
		for _, m := range members {
			for _, k := range e.keys[m] {
				if !clusteringKey(k) {
					continue
				}
				if last, ok := lastChunk[k]; ok && last > current {
					return false
				}
			}
		}
		return true
	})
}

// FlushAll merges every remaining open cluster.
func (e *Engine) FlushAll() ([]*model.CanonicalContact, []model.MergeDecision, []model.Finding) {
	return e.flush(func([]int) bool { return true })
}

// Snapshot returns the open cluster membership as arena index slices,
// for report generation. The engine must not be mutated while the
// snapshot is read.
func (e *Engine) Snapshot() [][]int {
	return e.clusters(func([]int) bool { return true })
}

func (e *Engine) clusters(ready func([]int) bool) [][]int {
	byRoot := map[int][]int{}
	for i := 0; i < e.uf.len(); i++ {
		root := e.uf.find(i)
		if e.closed[root] {
			continue
		}
		byRoot[root] = append(byRoot[root], i)
	}
	var out [][]int
	for _, members := range byRoot {
		if !ready(members) {
			continue
		}
		// deterministic member order: by source identifier
		sort.Slice(members, func(a, b int) bool {
			return e.arena[members[a]].Sources[0] < e.arena[members[b]].Sources[0]
		})
		out = append(out, members)
	}
	sort.Slice(out, func(a, b int) bool {
		return e.arena[out[a][0]].Sources[0] < e.arena[out[b][0]].Sources[0]
	})
	return out
}

func (e *Engine) flush(ready func([]int) bool) ([]*model.CanonicalContact, []model.MergeDecision, []model.Finding) {
	var contacts []*model.CanonicalContact
	var decisions []model.MergeDecision
	var findings []model.Finding
	for _, members := range e.clusters(ready) {
		merged, dec, fs := e.merge(members)
		contacts = append(contacts, merged)
		if dec != nil {
			decisions = append(decisions, *dec)
		}
		findings = append(findings, fs...)
		e.closed[e.uf.find(members[0])] = true
	}
	return contacts, decisions, findings
}

// merge collapses one cluster: the most complete member becomes the
// base, multi-valued fields union, disagreeing single-valued fields
// become conflicts. Returns a nil decision for singleton clusters.
func (e *Engine) merge(members []int) (*model.CanonicalContact, *model.MergeDecision, []model.Finding) {
	base := members[0]
	for _, m := range members[1:] {
		// strict > keeps the earlier member on ties, and members are
		// sorted by source id, so ties break lexicographically
		if e.arena[m].Completeness() > e.arena[base].Completeness() {
			base = m
		}
	}

	out := cloneContact(e.arena[base])
	if len(members) == 1 {
		if out.UID == "" {
			out.UID = vcard.GeneratedUID(out)
		}
		return out, nil, nil
	}

	dec := &model.MergeDecision{BaseID: out.Sources[0]}
	var findings []model.Finding
	conflict := func(field, discarded, source, reason string) {
		cf := model.Conflict{Field: field, Discarded: discarded, Source: source, Reason: reason}
		dec.Conflicts = append(dec.Conflicts, cf)
		out.Conflicts = append(out.Conflicts, cf)
		findings = append(findings, model.Finding{
			Severity: model.Soft,
			Code:     model.CodeConflictRecorded,
			Message:  fmt.Sprintf("%s %q from %s displaced by base value", field, discarded, source),
			Source:   source,
			Property: field,
		})
	}

	for _, m := range members {
		if m == base {
			continue
		}
		other := e.arena[m]
		dec.Absorbed = append(dec.Absorbed, other.Sources...)
		out.Sources = append(out.Sources, other.Sources...)

		for _, em := range other.Emails {
			mergeEmail(out, em)
		}
		for _, ph := range other.Phones {
			mergePhone(out, ph)
		}
		for _, a := range other.Addresses {
			mergeAddress(out, a)
		}
		for _, n := range other.Notes {
			if !containsString(out.Notes, n) {
				out.Notes = append(out.Notes, n)
			}
		}
		for _, p := range other.Photos {
			if !containsPhoto(out.Photos, p) {
				out.Photos = append(out.Photos, p)
			}
		}

		src := other.Sources[0]
		if other.FormattedName != "" && other.FormattedName != out.FormattedName {
			if out.FormattedName == "" {
				out.FormattedName = other.FormattedName
			} else {
				conflict("FN", other.FormattedName, src, "differing formatted name")
			}
		}
		if other.Birthday != "" && other.Birthday != out.Birthday {
			if out.Birthday == "" {
				out.Birthday = other.Birthday
			} else {
				conflict("BDAY", other.Birthday, src, "differing birthday")
			}
		}
		if other.Nickname != "" && other.Nickname != out.Nickname {
			if out.Nickname == "" {
				out.Nickname = other.Nickname
			} else {
				conflict("NICKNAME", other.Nickname, src, "differing nickname")
			}
		}
		if other.Title != "" && other.Title != out.Title {
			if out.Title == "" {
				out.Title = other.Title
			} else {
				conflict("TITLE", other.Title, src, "differing title")
			}
		}
		if len(other.Org) > 0 && !equalStrings(other.Org, out.Org) {
			if len(out.Org) == 0 {
				out.Org = append([]string(nil), other.Org...)
			} else {
				conflict("ORG", strings.Join(other.Org, ";"), src, "differing organization")
			}
		}
		if other.UID != "" && other.UID != out.UID {
			if out.UID == "" {
				out.UID = other.UID
			} else {
				conflict("UID", other.UID, src, "differing UID")
			}
		}
		if out.Name.IsZero() && !other.Name.IsZero() {
			out.Name = other.Name
		}
	}

	sort.Strings(out.Sources)
	sort.Strings(dec.Absorbed)
	if out.UID == "" {
		out.UID = vcard.GeneratedUID(out)
	}

	dec.Reason = e.citeKey(members)
	dec.ReasonStr = dec.Reason.Kind.String()
	return out, dec, findings
}

// citeKey picks the key cited as the merge reason: of all keys shared
// by at least two members, the one with the highest-priority kind,
// ties broken by smallest value. Citation never changes clustering.
func (e *Engine) citeKey(members []int) model.ClusterKey {
	count := map[model.ClusterKey]int{}
	for _, m := range members {
		seen := map[model.ClusterKey]bool{}
		for _, k := range e.keys[m] {
			if !seen[k] {
				seen[k] = true
				count[k]++
			}
		}
	}
	var best model.ClusterKey
	found := false
	for k, n := range count {
		if n < 2 {
			continue
		}
		if !found || k.Kind < best.Kind || (k.Kind == best.Kind && k.Value < best.Value) {
			best, found = k, true
		}
	}
	return best
}

func mergeEmail(c *model.CanonicalContact, em model.Email) {
	for i := range c.Emails {
		if strings.EqualFold(c.Emails[i].Value, em.Value) {
			c.Emails[i].Types = unionTypes(c.Emails[i].Types, em.Types)
			return
		}
	}
	c.Emails = append(c.Emails, em)
}

func mergePhone(c *model.CanonicalContact, ph model.Phone) {
	for i := range c.Phones {
		if c.Phones[i].Value == ph.Value {
			c.Phones[i].Types = unionTypes(c.Phones[i].Types, ph.Types)
			return
		}
	}
	c.Phones = append(c.Phones, ph)
}

func mergeAddress(c *model.CanonicalContact, a model.Address) {
	fp := addressFingerprint(a)
	for i := range c.Addresses {
		if addressFingerprint(c.Addresses[i]) == fp {
			c.Addresses[i].Types = unionTypes(c.Addresses[i].Types, a.Types)
			return
		}
	}
	c.Addresses = append(c.Addresses, a)
}

// unionTypes keeps the richest label set seen for a value.
func unionTypes(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func containsPhoto(ps []model.Photo, p model.Photo) bool {
	for _, x := range ps {
		if p.Hash != "" && x.Hash == p.Hash {
			return true
		}
		if p.Hash == "" && p.URI != "" && x.URI == p.URI {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneContact(c *model.CanonicalContact) *model.CanonicalContact {
	out := *c
	out.Org = append([]string(nil), c.Org...)
	out.Emails = append([]model.Email(nil), c.Emails...)
	out.Phones = append([]model.Phone(nil), c.Phones...)
	out.Addresses = append([]model.Address(nil), c.Addresses...)
	out.Notes = append([]string(nil), c.Notes...)
	out.Photos = append([]model.Photo(nil), c.Photos...)
	out.Conflicts = append([]model.Conflict(nil), c.Conflicts...)
	out.Sources = append([]string(nil), c.Sources...)
	return &out
}
