// Package kml converts between track records and KML documents. It is the
// file-format codec behind the sync engine's import/export contract: Encode
// renders one track as a KML Placemark, Decode materializes every Placemark
// in a stream as a new local track.
package kml

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/tracksync/internal/track"
)

// MimeType is the content type used for uploaded track files.
const MimeType = "application/vnd.google-earth.kml+xml"

// TrackCreator inserts new track records. Satisfied by *track.Store.
type TrackCreator interface {
	CreateTrack(ctx context.Context, t *track.Track) (int64, error)
}

// Codec encodes and decodes tracks. Decoded tracks are created through the
// TrackCreator with no remote link; the caller links them afterwards.
type Codec struct {
	creator TrackCreator
	logger  *slog.Logger
}

// NewCodec creates a Codec that materializes decoded tracks via creator.
func NewCodec(creator TrackCreator, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}

	return &Codec{creator: creator, logger: logger}
}

// --- KML document shapes ---

type kmlDocument struct {
	XMLName    xml.Name       `xml:"kml"`
	Xmlns      string         `xml:"xmlns,attr"`
	Placemarks []kmlPlacemark `xml:"Document>Placemark"`
}

type kmlPlacemark struct {
	Name        string         `xml:"name"`
	Description string         `xml:"description"`
	LineString  *kmlLineString `xml:"LineString"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

// Encode renders a track as a KML document.
func (c *Codec) Encode(t *track.Track) (io.Reader, error) {
	doc := kmlDocument{
		Xmlns: "http://www.opengis.net/kml/2.2",
		Placemarks: []kmlPlacemark{{
			Name:        t.Name,
			Description: t.Description,
			LineString:  &kmlLineString{Coordinates: encodeCoordinates(t.Points)},
		}},
	}

	var buf bytes.Buffer

	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("kml: encoding track %d: %w", t.ID, err)
	}

	return &buf, nil
}

// Decode parses a KML stream and creates one local track per Placemark.
// Returns the ids of the created tracks; the caller inspects the count.
// Created tracks carry no remote link and the unsynced modified-time marker
// until the sync engine links them.
func (c *Codec) Decode(ctx context.Context, r io.Reader) ([]int64, error) {
	var doc kmlDocument

	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("kml: parsing document: %w", err)
	}

	var ids []int64

	for i := range doc.Placemarks {
		p := &doc.Placemarks[i]

		t := &track.Track{
			Name:        p.Name,
			Description: p.Description,
			ModifiedAt:  track.UnsyncedMtime,
		}

		if p.LineString != nil {
			points, err := decodeCoordinates(p.LineString.Coordinates)
			if err != nil {
				return ids, fmt.Errorf("kml: placemark %q: %w", p.Name, err)
			}

			t.Points = points
		}

		id, err := c.creator.CreateTrack(ctx, t)
		if err != nil {
			return ids, fmt.Errorf("kml: creating track %q: %w", p.Name, err)
		}

		c.logger.Debug("imported track",
			slog.Int64("id", id),
			slog.String("name", p.Name),
			slog.Int("points", len(t.Points)),
		)

		ids = append(ids, id)
	}

	return ids, nil
}

// encodeCoordinates renders points as "lon,lat[,elev]" tuples, one per line,
// per the KML coordinates element.
func encodeCoordinates(points []track.Point) string {
	var sb strings.Builder

	for _, p := range points {
		sb.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))

		if p.Elev != 0 {
			sb.WriteByte(',')
			sb.WriteString(strconv.FormatFloat(p.Elev, 'f', -1, 64))
		}

		sb.WriteByte('\n')
	}

	return sb.String()
}

// decodeCoordinates parses a KML coordinates element into track points.
// Tuples are whitespace-separated; elevation is optional.
func decodeCoordinates(raw string) ([]track.Point, error) {
	var points []track.Point

	for _, tuple := range strings.Fields(raw) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed coordinate tuple %q", tuple)
		}

		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("longitude %q: %w", parts[0], err)
		}

		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("latitude %q: %w", parts[1], err)
		}

		p := track.Point{Lon: lon, Lat: lat}

		if len(parts) > 2 && parts[2] != "" {
			elev, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("elevation %q: %w", parts[2], err)
			}

			p.Elev = elev
		}

		points = append(points, p)
	}

	return points, nil
}

// Filename returns the remote file title for a track: the track name with a
// .kml extension, falling back to a timestamped name for unnamed tracks.
func Filename(t *track.Track) string {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = "track-" + time.Unix(0, t.CreatedAt).UTC().Format("20060102-150405")
	}

	return name + ".kml"
}
