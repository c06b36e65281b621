package log

import (
	"io"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"gumroad/internal/domain"
)

var logg = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "action", logrus.FieldKeyTime: "ts"},
	})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	return l
}

func Logger() *logrus.Logger { return logg }

func SetOutput(w io.Writer) { logg.SetOutput(w) }

// SetLevel accepts logrus level names; unknown names leave the level unchanged.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logg.SetLevel(lvl)
	}
}

func entry(c *fiber.Ctx, kind string, fields map[string]any) *logrus.Entry {
	f := logrus.Fields{"kind": kind}
	if len(fields) > 0 {
		f["fields"] = fields
	}
	if c != nil {
		f["ip"] = c.IP()
		f["method"] = c.Method()
		f["path"] = c.Path()
		f["status"] = c.Response().StatusCode()
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			f["req_id"] = rid
		}
		if u, ok := c.Locals("user").(*domain.User); ok && u != nil {
			f["user_id"] = u.ID
		}
	}
	return logg.WithFields(f)
}

func Info(c *fiber.Ctx, action string, fields map[string]any) {
	entry(c, "info", fields).Info(action)
}

func Audit(c *fiber.Ctx, action string, fields map[string]any) {
	entry(c, "audit", fields).Info(action)
}

func Security(c *fiber.Ctx, action string, fields map[string]any) {
	entry(c, "security", fields).Warn(action)
}

func Error(c *fiber.Ctx, action string, err error, fields map[string]any) {
	e := entry(c, "error", fields)
	if err != nil {
		e = e.WithField("err", err.Error())
	}
	e.Error(action)
}

// Background logs from code that runs outside a request (workers, queue consumers).
func Background(action string, fields map[string]any) {
	entry(nil, "background", fields).Info(action)
}

func BackgroundError(action string, err error, fields map[string]any) {
	e := entry(nil, "background", fields)
	if err != nil {
		e = e.WithField("err", err.Error())
	}
	e.Error(action)
}
