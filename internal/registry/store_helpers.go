package registry

import (
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

type scanner interface{ Scan(dest ...any) error }

const hostColumns = "id, base_url, address, node_name, memory, cores, max_load, online, active, maintenance"

func scanHost(row scanner) (*Host, error) {
	var (
		host     Host
		address  sql.NullString
		nodeName sql.NullString
		online   int
		active   int
		maint    int
	)
	if err := row.Scan(&host.ID, &host.BaseURL, &address, &nodeName, &host.Memory, &host.Cores,
		&host.MaxLoad, &online, &active, &maint); err != nil {
		return nil, err
	}
	host.Address = address.String
	host.NodeName = nodeName.String
	host.Online = online != 0
	host.Active = active != 0
	host.Maintenance = maint != 0
	return &host, nil
}

const serviceSelect = `SELECT s.id, s.host_id, s.service_type, h.base_url, s.path, s.job_producer, s.online, s.active,
    s.online_from, s.state, s.state_changed, s.warning_state_trigger, s.error_state_trigger, h.maintenance
FROM services s JOIN hosts h ON h.id = s.host_id`

func scanService(row scanner) (*Service, error) {
	var (
		svc          Service
		jobProducer  int
		online       int
		active       int
		onlineFrom   sql.NullString
		state        string
		stateChanged sql.NullString
		maint        int
	)
	if err := row.Scan(&svc.ID, &svc.HostID, &svc.ServiceType, &svc.Host, &svc.Path, &jobProducer, &online, &active,
		&onlineFrom, &state, &stateChanged, &svc.WarningStateTrigger, &svc.ErrorStateTrigger, &maint); err != nil {
		return nil, err
	}
	svc.JobProducer = jobProducer != 0
	svc.Online = online != 0
	svc.Active = active != 0
	svc.State = ServiceState(state)
	svc.Maintenance = maint != 0
	if t, err := parseTimeString(onlineFrom.String); err == nil {
		svc.OnlineFrom = t
	}
	if t, err := parseTimeString(stateChanged.String); err == nil {
		svc.StateChanged = t
	}
	return &svc, nil
}

const jobSelect = `SELECT j.id, j.version, j.creator, j.organization, j.job_type, j.operation, j.arguments_json, j.payload,
    j.status, j.failure_reason, j.creator_service_id, ch.base_url, j.processor_service_id, ph.base_url,
    j.date_created, j.date_started, j.date_completed, j.queue_time_ms, j.run_time_ms,
    j.parent_id, j.root_id, j.dispatchable, j.job_load
FROM jobs j
JOIN services cs ON cs.id = j.creator_service_id
JOIN hosts ch ON ch.id = cs.host_id
LEFT JOIN services ps ON ps.id = j.processor_service_id
LEFT JOIN hosts ph ON ph.id = ps.host_id`

func scanJob(row scanner) (*Job, error) {
	var (
		job            Job
		creator        sql.NullString
		organization   sql.NullString
		argumentsJSON  string
		payload        sql.NullString
		status         string
		failureReason  string
		processorID    sql.NullInt64
		processingHost sql.NullString
		createdRaw     string
		startedRaw     sql.NullString
		completedRaw   sql.NullString
		queueMillis    int64
		runMillis      int64
		parentID       sql.NullInt64
		rootID         sql.NullInt64
		dispatchable   int
	)
	if err := row.Scan(&job.ID, &job.Version, &creator, &organization, &job.JobType, &job.Operation, &argumentsJSON,
		&payload, &status, &failureReason, &job.CreatorServiceID, &job.CreatedHost, &processorID, &processingHost,
		&createdRaw, &startedRaw, &completedRaw, &queueMillis, &runMillis, &parentID, &rootID, &dispatchable,
		&job.JobLoad); err != nil {
		return nil, err
	}
	job.Creator = creator.String
	job.Organization = organization.String
	job.Payload = payload.String
	job.Status = Status(status)
	job.FailureReason = FailureReason(failureReason)
	job.ProcessorServiceID = processorID.Int64
	job.ProcessingHost = processingHost.String
	job.QueueTime = time.Duration(queueMillis) * time.Millisecond
	job.RunTime = time.Duration(runMillis) * time.Millisecond
	job.Dispatchable = dispatchable != 0
	if parentID.Valid {
		id := parentID.Int64
		job.ParentID = &id
	}
	if rootID.Valid {
		id := rootID.Int64
		job.RootID = &id
	}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &job.Arguments); err != nil {
			return nil, err
		}
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.DateCreated = t
	}
	if t, err := parseTimeString(startedRaw.String); err == nil {
		job.DateStarted = &t
	}
	if t, err := parseTimeString(completedRaw.String); err == nil {
		job.DateCompleted = &t
	}
	return &job, nil
}

func encodeArguments(args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableID(value int64) any {
	if value <= 0 {
		return nil
	}
	return value
}

func nullableIDPtr(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// timeLayout keeps a fixed fraction width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
