package analysis

import (
	"time"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

var testBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) *time.Time {
	t := testBase.AddDate(0, 0, offset)
	return &t
}

func fptr(v float64) *float64 { return &v }

func bptr(v bool) *bool { return &v }

func testPolicy() instrument.Policy { return instrument.DefaultPolicy() }

func testDataset(observations []models.Observation, participants map[string]models.Participant) *models.Dataset {
	if participants == nil {
		participants = make(map[string]models.Participant)
		for _, obs := range observations {
			if _, ok := participants[obs.ParticipantCode]; !ok {
				participants[obs.ParticipantCode] = models.Participant{Code: obs.ParticipantCode}
			}
		}
	}
	return &models.Dataset{
		SnapshotID:   "snap-test",
		FetchedAt:    testBase,
		Observations: observations,
		Participants: participants,
	}
}

func metricObs(code string, offset int, field string, value float64) models.Observation {
	return models.Observation{
		ParticipantCode: code,
		Instrument:      "sleep_diary",
		Timestamp:       day(offset),
		Complete:        true,
		Fields:          map[string]models.Value{field: models.NumberValue(value)},
	}
}

func sleepObs(code string, offset int, duration, quality *float64) models.Observation {
	obs := models.Observation{
		ParticipantCode: code,
		Instrument:      "sleep_diary",
		Timestamp:       day(offset),
		Complete:        true,
		Fields:          map[string]models.Value{},
		Sleep:           &models.SleepEntry{DurationHours: duration, Quality: quality},
	}
	if duration != nil {
		obs.Fields["sleep_duration"] = models.NumberValue(*duration)
	}
	if quality != nil {
		obs.Fields["sleep_quality"] = models.NumberValue(*quality)
	}
	return obs
}

func medicationObs(code string, offset int, entry *models.MedicationEntry) models.Observation {
	return models.Observation{
		ParticipantCode: code,
		Instrument:      "medication_log",
		Timestamp:       day(offset),
		Complete:        true,
		Fields:          map[string]models.Value{},
		Medication:      entry,
	}
}

func utilizationObs(code string, offset int, visitType string, count, changes *float64) models.Observation {
	return models.Observation{
		ParticipantCode: code,
		Instrument:      "healthcare_utilization",
		Timestamp:       day(offset),
		Complete:        true,
		Fields:          map[string]models.Value{},
		Utilization: &models.UtilizationEntry{
			VisitType:         visitType,
			VisitCount:        count,
			MedicationChanges: changes,
		},
	}
}
