package storage

import (
	"encoding/json"
	"fmt"

	"eppd/internal/model"
)

// The postgres store persists resources and entities as JSONB with a kind
// envelope, so schema churn on domain types never needs a migration.

type resourceEnvelope struct {
	Kind model.Kind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalResource(r model.Resource) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", r.ResourceKind(), err)
	}
	return json.Marshal(resourceEnvelope{Kind: r.ResourceKind(), Data: data})
}

func unmarshalResource(raw []byte) (model.Resource, error) {
	var env resourceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal resource envelope: %w", err)
	}
	var r model.Resource
	switch env.Kind {
	case model.KindDomain:
		r = &model.Domain{}
	case model.KindContact:
		r = &model.Contact{}
	case model.KindHost:
		r = &model.Host{}
	case model.KindApplication:
		r = &model.DomainApplication{}
	default:
		return nil, fmt.Errorf("unknown resource kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, r); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return r, nil
}

type entityEnvelope struct {
	Kind model.EntityKind `json:"kind"`
	Data json.RawMessage  `json:"data"`
}

func marshalEntity(e model.Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Key().Kind, err)
	}
	return json.Marshal(entityEnvelope{Kind: e.Key().Kind, Data: data})
}

func unmarshalEntity(raw []byte) (model.Entity, error) {
	var env entityEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal entity envelope: %w", err)
	}
	var e model.Entity
	switch env.Kind {
	case model.EntityBillingEvent:
		e = &model.BillingEvent{}
	case model.EntityRecurrence:
		e = &model.Recurrence{}
	case model.EntityPollMessage:
		e = &model.PollMessage{}
	case model.EntityHistoryEntry:
		e = &model.HistoryEntry{}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return e, nil
}
