// Package httpapi exposes the circulation engine over HTTP. It is a thin
// translation layer: JSON in, engine call, JSON out, with engine
// validation errors mapped onto HTTP status codes. All circulation rules
// live in the engine; the API never touches the tables directly.
package httpapi
