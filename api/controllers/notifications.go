package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/api/validators"
	"github.com/angelmondragon/buttonbid-backend/internal/notifications"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

// ListNotifications pages through the caller's inbox. Query: limit, cursor,
// unreadOnly and a comma separated type filter.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "notifications", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		params, err := inboxQuery(r, actor)
		if err != nil {
			return 0, nil, err
		}
		page, err := svc.List(r.Context(), params)
		return 0, page, err
	})
}

func inboxQuery(r *http.Request, actor uuid.UUID) (notifications.ListParams, error) {
	q := r.URL.Query()
	params := notifications.ListParams{
		UserID: actor,
		Cursor: strings.TrimSpace(q.Get("cursor")),
	}
	var err error
	if params.Limit, err = validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit); err != nil {
		return params, err
	}
	if params.UnreadOnly, err = validators.ParseQueryBool(r, "unreadOnly", false); err != nil {
		return params, err
	}
	for raw := range strings.SplitSeq(q.Get("type"), ",") {
		if kind := strings.TrimSpace(raw); kind != "" {
			params.Types = append(params.Types, enums.NotificationType(kind))
		}
	}
	return params, nil
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "notifications", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		id, err := uuidParam(r, "notificationId")
		if err != nil {
			return 0, nil, err
		}
		if err := svc.MarkRead(r.Context(), actor, id); err != nil {
			return 0, nil, err
		}
		return 0, map[string]bool{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "notifications", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		updated, err := svc.MarkAllRead(r.Context(), actor)
		return 0, map[string]int64{"updated": updated}, err
	})
}
