// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog prices model selections.
//
// The set of priced models is closed. Any identifier outside it resolves to
// ModelUnlisted, which costs nothing and is still forwarded upstream.
package catalog

import (
	"log/slog"
	"strings"
)

// Model is one variant of the closed model set.
type Model int

const (
	ModelUnlisted Model = iota
	ModelGPT4oMini
	ModelGPT4o
	ModelO3Mini
	ModelDeepSeekR1
)

// Descriptor is the static metadata of one model.
type Descriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Cost  int    `json:"cost"`
}

var descriptors = map[Model]Descriptor{
	ModelGPT4oMini:  {ID: "gpt-4o-mini", Label: "GPT-4o mini", Cost: 1},
	ModelGPT4o:      {ID: "gpt-4o", Label: "GPT-4o", Cost: 5},
	ModelO3Mini:     {ID: "o3-mini", Label: "o3-mini", Cost: 3},
	ModelDeepSeekR1: {ID: "deepseek-r1", Label: "DeepSeek R1", Cost: 10},
}

// listed preserves display order for All.
var listed = []Model{ModelGPT4oMini, ModelGPT4o, ModelO3Mini, ModelDeepSeekR1}

var byID = func() map[string]Model {
	m := make(map[string]Model, len(descriptors))
	for model, d := range descriptors {
		m[d.ID] = model
	}
	return m
}()

// Parse maps an identifier to its variant. Matching is exact after trimming.
func Parse(id string) Model {
	if m, ok := byID[strings.TrimSpace(id)]; ok {
		return m
	}
	return ModelUnlisted
}

// Cost returns the points charged per request. Always >= 0.
func (m Model) Cost() int {
	return descriptors[m].Cost
}

func (m Model) String() string {
	if d, ok := descriptors[m]; ok {
		return d.ID
	}
	return "unlisted"
}

// Lookup resolves id to a descriptor. Unknown ids keep their identifier so
// the request can still be forwarded, but carry cost 0.
func Lookup(id string) Descriptor {
	m := Parse(id)
	if m == ModelUnlisted {
		slog.Warn("unlisted model requested, charging 0 points", "model_id", id)
		return Descriptor{ID: strings.TrimSpace(id), Label: strings.TrimSpace(id), Cost: 0}
	}
	return descriptors[m]
}

// Cost is shorthand for Lookup(id).Cost.
func Cost(id string) int {
	return Parse(id).Cost()
}

// All lists the priced models in display order.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(listed))
	for _, m := range listed {
		out = append(out, descriptors[m])
	}
	return out
}
