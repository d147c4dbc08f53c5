// Package batch serves the XML endpoints the downstream batch jobs poll:
// the processing queues and the approved access requests, plus the flag
// endpoints that acknowledge consumed items. The paths are reachable only
// from the trusted batch network.
package batch

import (
	"encoding/xml"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/queue"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the base path of the batch endpoints.
const Path = "/admin/batch"

// Service is the batch handler service.
type Service struct {
	cfg      *config.Config
	queues   *queue.Service
	requests *request.Service
}

// Handler is the batch handler.
var Handler = Service{}

// Init initializes the batch handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, queues *queue.Service, requests *request.Service) error {
	if app == nil || cfg == nil || queues == nil || requests == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.queues = queues
	s.requests = requests

	app.Route(Path, func(router fiber.Router) {
		router.Get("/getItrustUpdates", s.queueGet(queue.KindIdentity))
		router.Get("/getItrustOverrides", s.queueGet(queue.KindOverride))
		router.Get("/getPublicKeyUpdates", s.queueGet(queue.KindPublicKey))
		router.Get("/getPendingApprovedRequests", s.PendingApprovedRequests)

		router.Post("/flagItrustUpdates", s.queueFlag(queue.KindIdentity))
		router.Post("/flagItrustOverrides", s.queueFlag(queue.KindOverride))
		router.Post("/flagPublicKeyUpdates", s.queueFlag(queue.KindPublicKey))
		router.Post("/flagPendingApprovedRequests", s.FlagPendingApprovedRequests)
	})

	return nil
}

// Wire shapes. Lists stay wrapped in their plural element even when they
// carry a single entry, which is what the consumers parse.
type xmlUser struct {
	ID          uint64 `xml:"id"`
	EntrustUser string `xml:"entrustuser"`
	Username    string `xml:"username"`
	Email       string `xml:"email"`
	DN          string `xml:"dn"`
	ExternalDN  string `xml:"externaldn"`
	PublicKey   string `xml:"publickey,omitempty"`
}

type xmlUserList struct {
	XMLName xml.Name  `xml:"users"`
	Users   []xmlUser `xml:"user"`
}

type xmlRequest struct {
	ID          uint64   `xml:"id"`
	RequestID   string   `xml:"requestid"`
	Application string   `xml:"application"`
	Level       string   `xml:"level"`
	RequesterDN string   `xml:"requesterdn"`
	Groups      []string `xml:"groups>group"`
}

type xmlRequestList struct {
	XMLName  xml.Name     `xml:"requests"`
	Requests []xmlRequest `xml:"request"`
}

type xmlIDList struct {
	XMLName xml.Name `xml:"ids"`
	IDs     []uint64 `xml:"id"`
}

type xmlAckResult struct {
	XMLName  xml.Name `xml:"result"`
	Matched  int64    `xml:"matched"`
	Modified int64    `xml:"modified"`
}

// queueGet builds the GET handler for one processing queue.
func (s *Service) queueGet(kind queue.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, err := s.queues.ListUnprocessed(c.Context(), kind)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to list queue")
			return fiber.ErrInternalServerError
		}

		list := xmlUserList{Users: make([]xmlUser, 0, len(items))}
		for _, item := range items {
			user := xmlUser{
				ID:          item.ID,
				EntrustUser: item.EntrustUser,
				Username:    item.Username,
				Email:       item.Email,
				DN:          item.DN,
				ExternalDN:  item.ExternalDN,
			}
			if kind == queue.KindPublicKey {
				user.PublicKey = item.PublicKey
			}
			list.Users = append(list.Users, user)
		}

		return writeXML(c, list)
	}
}

// queueFlag builds the POST handler acknowledging one processing queue.
func (s *Service) queueFlag(kind queue.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids, err := parseIDs(c)
		if err != nil {
			return err
		}

		result, err := s.queues.Acknowledge(c.Context(), kind, ids)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to acknowledge queue items")
			return fiber.ErrInternalServerError
		}

		return writeXML(c, xmlAckResult{Matched: result.Matched, Modified: result.Modified})
	}
}

// PendingApprovedRequests lists approved but unconsumed access requests.
func (s *Service) PendingApprovedRequests(c *fiber.Ctx) error {
	grants, err := s.requests.ListPendingApproved(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list pending approved requests")
		return fiber.ErrInternalServerError
	}

	list := xmlRequestList{Requests: make([]xmlRequest, 0, len(grants))}
	for _, grant := range grants {
		list.Requests = append(list.Requests, xmlRequest{
			ID:          grant.ID,
			RequestID:   grant.RequestID,
			Application: grant.AppName,
			Level:       grant.Level,
			RequesterDN: grant.RequesterDN,
			Groups:      grant.Groups,
		})
	}

	return writeXML(c, list)
}

// FlagPendingApprovedRequests acknowledges consumed access requests.
func (s *Service) FlagPendingApprovedRequests(c *fiber.Ctx) error {
	ids, err := parseIDs(c)
	if err != nil {
		return err
	}

	result, err := s.requests.AcknowledgeProcessed(c.Context(), ids)
	if err != nil {
		log.Error().Err(err).Msg("failed to acknowledge access requests")
		return fiber.ErrInternalServerError
	}

	return writeXML(c, xmlAckResult{Matched: result.Matched, Modified: result.Modified})
}

func parseIDs(c *fiber.Ctx) ([]uint64, error) {
	var list xmlIDList
	if err := xml.Unmarshal(c.Body(), &list); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "malformed id list")
	}

	return list.IDs, nil
}

func writeXML(c *fiber.Ctx, v any) error {
	out, err := xml.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		return fiber.ErrInternalServerError
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)

	return c.SendString(xml.Header + string(out))
}
