package flows

import (
	"context"
	"time"

	"eppd/internal/epp"
	"eppd/internal/model"
	"eppd/internal/registry"
	"eppd/internal/storage"
)

func (s *FlowsSuite) requestTransfer(fqdn string) *epp.Response {
	return s.run(s.sessionB, &epp.Command{
		Verb:       epp.VerbTransfer,
		Resource:   epp.ResourceDomain,
		TransferOp: epp.TransferRequest,
		Targets:    []string{fqdn},
		AuthInfo:   "secret-" + fqdn,
	})
}

func (s *FlowsSuite) transferOp(session *Session, op epp.TransferOp, fqdn string) *epp.Response {
	return s.run(session, &epp.Command{
		Verb:       epp.VerbTransfer,
		Resource:   epp.ResourceDomain,
		TransferOp: op,
		Targets:    []string{fqdn},
	})
}

func (s *FlowsSuite) countEntities(kind model.EntityKind, keys []model.EntityKey) int {
	n := 0
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, key := range keys {
			if key.Kind != kind {
				continue
			}
			if _, err := tx.LoadEntity(ctx, key); err == nil {
				n++
			}
		}
		return nil
	})
	s.Require().NoError(err)
	return n
}

func (s *FlowsSuite) loadRecurrence(d *model.Domain) *model.Recurrence {
	var rec *model.Recurrence
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx storage.Tx) error {
		e, err := tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: d.AutorenewRecurrenceID})
		if err != nil {
			return err
		}
		rec = e.(*model.Recurrence)
		return nil
	})
	s.Require().NoError(err)
	return rec
}

func (s *FlowsSuite) TestTransferRequestOpensPending() {
	s.createDomain(s.sessionA, "example.test")

	resp := s.requestTransfer("example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, resp.Code, resp.Message)
	info := resp.ResData.(*epp.TransferInfo)
	s.Equal(string(model.TransferPending), info.Status)
	s.Equal("registrar-b", info.GainingClient)
	s.Equal("registrar-a", info.LosingClient)
	s.Require().NotNil(info.ExpirationTime)
	s.Equal(testStart.Add(registry.DefaultTransferGracePeriod), *info.ExpirationTime)

	d := s.loadDomain("example.test")
	s.True(d.Statuses.Has(model.StatusPendingTransfer))
	s.Require().NotNil(d.TransferData)
	// Speculative billing and poll messages exist, keyed on the transfer.
	s.Len(d.TransferData.ServerApproveEntities, 3)
	s.Equal(1, s.countEntities(model.EntityBillingEvent, d.TransferData.ServerApproveEntities))
	s.Equal(2, s.countEntities(model.EntityPollMessage, d.TransferData.ServerApproveEntities))

	// Autorenew is capped at the transfer expiration while it is pending.
	s.Equal(*info.ExpirationTime, s.loadRecurrence(d).EndTime)
}

func (s *FlowsSuite) TestTransferRequestBadAuthInfo() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.run(s.sessionB, &epp.Command{
		Verb:       epp.VerbTransfer,
		Resource:   epp.ResourceDomain,
		TransferOp: epp.TransferRequest,
		Targets:    []string{"example.test"},
		AuthInfo:   "wrong",
	})
	s.Equal(epp.CodeAuthorizationFailed, resp.Code)
}

func (s *FlowsSuite) TestTransferRequestWhilePending() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)

	resp := s.requestTransfer("example.test")
	s.Equal(epp.CodeObjectPendingTransfer, resp.Code)
}

func (s *FlowsSuite) TestTransferRequestProhibitedByStatus() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.run(s.sessionA, &epp.Command{
		Verb:     epp.VerbUpdate,
		Resource: epp.ResourceDomain,
		Targets:  []string{"example.test"},
		Update:   &epp.UpdateFields{AddStatuses: []string{"clientTransferProhibited"}},
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code)

	s.Equal(epp.CodeStatusProhibitsOperation, s.requestTransfer("example.test").Code)
}

func (s *FlowsSuite) TestTransferApprove() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)

	resp := s.transferOp(s.sessionA, epp.TransferApprove, "example.test")
	s.Require().Equal(epp.CodeSuccess, resp.Code, resp.Message)
	s.Equal(string(model.TransferClientApproved), resp.ResData.(*epp.TransferInfo).Status)

	d := s.loadDomain("example.test")
	s.Equal("registrar-b", d.CurrentSponsorClientID)
	s.False(d.Statuses.Has(model.StatusPendingTransfer))
	s.Require().NotNil(d.LastTransferTime)
	s.Equal(testStart, *d.LastTransferTime)
	// The bundled extension year applied at approval.
	s.Equal(testStart.AddDate(2, 0, 0), d.RegistrationExpirationTime)
	s.Empty(d.TransferData.ServerApproveEntities)

	// Autorenew reopened under the gaining registrar.
	rec := s.loadRecurrence(d)
	s.Equal(model.EndOfTime, rec.EndTime)
	s.Equal("registrar-b", rec.RegistrarID)
}

func (s *FlowsSuite) TestTransferReject() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.requestTransfer("example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, resp.Code)
	keys := s.loadDomain("example.test").TransferData.ServerApproveEntities

	resp = s.transferOp(s.sessionA, epp.TransferReject, "example.test")
	s.Require().Equal(epp.CodeSuccess, resp.Code, resp.Message)

	d := s.loadDomain("example.test")
	s.Equal("registrar-a", d.CurrentSponsorClientID)
	s.Equal(model.TransferClientRejected, d.TransferData.Status)
	s.False(d.Statuses.Has(model.StatusPendingTransfer))
	s.Nil(d.LastTransferTime)
	// Registration was not extended.
	s.Equal(testStart.AddDate(1, 0, 0), d.RegistrationExpirationTime)

	// All speculative entities vanished as a unit.
	s.Equal(0, s.countEntities(model.EntityBillingEvent, keys))
	s.Equal(0, s.countEntities(model.EntityPollMessage, keys))
	s.Equal(model.EndOfTime, s.loadRecurrence(d).EndTime)
}

func (s *FlowsSuite) TestTransferCancelByGainingOnly() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)

	resp := s.transferOp(s.sessionA, epp.TransferCancel, "example.test")
	s.Equal(epp.CodeAuthorizationFailed, resp.Code)

	resp = s.transferOp(s.sessionB, epp.TransferCancel, "example.test")
	s.Require().Equal(epp.CodeSuccess, resp.Code, resp.Message)
	s.Equal(model.TransferClientCancelled, s.loadDomain("example.test").TransferData.Status)
}

func (s *FlowsSuite) TestTransferResolveRequiresPending() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.transferOp(s.sessionA, epp.TransferApprove, "example.test")
	s.Equal(epp.CodeObjectNotPendingTransfer, resp.Code)
}

func (s *FlowsSuite) TestTransferAutoApprovalAfterGracePeriod() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)
	expiration := testStart.Add(registry.DefaultTransferGracePeriod)

	// One second before the deadline nothing has changed.
	s.clock.Set(expiration.Add(-time.Second))
	resp := s.run(s.sessionA, &epp.Command{
		Verb:     epp.VerbInfo,
		Resource: epp.ResourceDomain,
		Targets:  []string{"example.test"},
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code)
	s.Equal("registrar-a", resp.ResData.(*epp.InfoData).SponsorClientID)

	// At the deadline every read sees the transfer as approved.
	s.clock.Set(expiration)
	resp = s.run(s.sessionA, &epp.Command{
		Verb:     epp.VerbInfo,
		Resource: epp.ResourceDomain,
		Targets:  []string{"example.test"},
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code)
	data := resp.ResData.(*epp.InfoData)
	s.Equal("registrar-b", data.SponsorClientID)
	s.Require().NotNil(data.LastTransferTime)
	s.Equal(expiration, *data.LastTransferTime)

	// The info flow persisted the projection: the stored record now carries
	// the approved transfer durably.
	d := s.loadDomain("example.test")
	s.Equal("registrar-b", d.CurrentSponsorClientID)
	s.Equal(model.TransferServerApproved, d.TransferData.Status)
	s.Empty(d.TransferData.ServerApproveEntities)
	s.Equal(testStart.AddDate(2, 0, 0), d.RegistrationExpirationTime)
}

func (s *FlowsSuite) TestExplicitApproveAfterDeadlineTooLate() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)

	s.clock.Advance(registry.DefaultTransferGracePeriod + time.Hour)

	// The implicit approval already happened; an explicit resolution of the
	// no-longer-pending transfer is rejected.
	resp := s.transferOp(s.sessionA, epp.TransferReject, "example.test")
	s.Equal(epp.CodeObjectNotPendingTransfer, resp.Code)
	s.Equal("registrar-b", s.loadDomain("example.test").CurrentSponsorClientID)
}

func (s *FlowsSuite) TestTransferQuery() {
	s.createDomain(s.sessionA, "example.test")
	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)

	resp := s.transferOp(s.sessionB, epp.TransferQuery, "example.test")
	s.Require().Equal(epp.CodeSuccess, resp.Code, resp.Message)
	s.Equal(string(model.TransferPending), resp.ResData.(*epp.TransferInfo).Status)

	// Query keeps working after resolution, reporting the terminal state.
	s.Require().Equal(epp.CodeSuccess, s.transferOp(s.sessionA, epp.TransferReject, "example.test").Code)
	resp = s.transferOp(s.sessionB, epp.TransferQuery, "example.test")
	s.Require().Equal(epp.CodeSuccess, resp.Code)
	s.Equal(string(model.TransferClientRejected), resp.ResData.(*epp.TransferInfo).Status)
}

func (s *FlowsSuite) TestTransferQueryNoHistory() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.transferOp(s.sessionA, epp.TransferQuery, "example.test")
	s.Equal(epp.CodeObjectNotPendingTransfer, resp.Code)
}

func (s *FlowsSuite) TestHostFollowsDomainTransfer() {
	s.createDomain(s.sessionA, "example.test")
	resp := s.run(s.sessionA, &epp.Command{
		Verb:     epp.VerbCreate,
		Resource: epp.ResourceHost,
		Targets:  []string{"ns1.example.test"},
		Host:     &epp.HostFields{Addresses: []string{"192.0.2.1"}},
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code)

	s.Require().Equal(epp.CodeSuccessActionPending, s.requestTransfer("example.test").Code)
	expiration := testStart.Add(registry.DefaultTransferGracePeriod)
	s.clock.Set(expiration.Add(time.Hour))

	resp = s.run(s.sessionB, &epp.Command{
		Verb:     epp.VerbInfo,
		Resource: epp.ResourceHost,
		Targets:  []string{"ns1.example.test"},
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code, resp.Message)
	data := resp.ResData.(*epp.InfoData)
	s.Equal("registrar-b", data.SponsorClientID)
	s.Require().NotNil(data.LastTransferTime)
	s.Equal(expiration, *data.LastTransferTime)
}

func (s *FlowsSuite) TestContactTransferNoBilling() {
	resp := s.run(s.sessionA, &epp.Command{
		Verb:     epp.VerbCreate,
		Resource: epp.ResourceContact,
		Targets:  []string{"sh8013"},
		AuthInfo: "contact-secret",
	})
	s.Require().Equal(epp.CodeSuccess, resp.Code)

	resp = s.run(s.sessionB, &epp.Command{
		Verb:       epp.VerbTransfer,
		Resource:   epp.ResourceContact,
		TransferOp: epp.TransferRequest,
		Targets:    []string{"sh8013"},
		AuthInfo:   "contact-secret",
	})
	s.Require().Equal(epp.CodeSuccessActionPending, resp.Code, resp.Message)

	var c *model.Contact
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.LoadResource(ctx, model.KindContact, "sh8013")
		if err != nil {
			return err
		}
		c = r.(*model.Contact)
		return nil
	})
	s.Require().NoError(err)
	// Contacts transfer without fees: poll messages only.
	s.Len(c.TransferData.ServerApproveEntities, 2)
	s.Equal(0, s.countEntities(model.EntityBillingEvent, c.TransferData.ServerApproveEntities))
}
