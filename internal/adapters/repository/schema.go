package repository

// schema creates the three tables. Natural key is (callsign, contest, timestamp);
// child rows reference the snapshot by id.
var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS contest_scores_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS contest_scores (
		id           BIGINT PRIMARY KEY DEFAULT nextval('contest_scores_id_seq'),
		"timestamp"  TIMESTAMP NOT NULL,
		contest      VARCHAR NOT NULL,
		callsign     VARCHAR NOT NULL,
		power        VARCHAR,
		assisted     VARCHAR,
		transmitter  VARCHAR,
		ops          VARCHAR,
		bands        VARCHAR,
		mode         VARCHAR,
		overlay      VARCHAR,
		club         VARCHAR,
		section      VARCHAR,
		score        BIGINT NOT NULL DEFAULT 0,
		qsos         BIGINT NOT NULL DEFAULT 0,
		multipliers  BIGINT NOT NULL DEFAULT 0,
		points       BIGINT NOT NULL DEFAULT 0,
		UNIQUE (callsign, contest, "timestamp")
	)`,
	`CREATE TABLE IF NOT EXISTS band_breakdown (
		contest_score_id BIGINT NOT NULL REFERENCES contest_scores(id),
		band             VARCHAR NOT NULL,
		mode             VARCHAR NOT NULL,
		qsos             BIGINT NOT NULL DEFAULT 0,
		points           BIGINT NOT NULL DEFAULT 0,
		multipliers      BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (contest_score_id, band, mode)
	)`,
	`CREATE TABLE IF NOT EXISTS qth_info (
		contest_score_id BIGINT PRIMARY KEY REFERENCES contest_scores(id),
		dxcc_country     VARCHAR,
		country          VARCHAR,
		continent        VARCHAR,
		cq_zone          VARCHAR,
		iaru_zone        VARCHAR,
		arrl_section     VARCHAR,
		state_province   VARCHAR,
		grid6            VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contest_scores_contest_ts ON contest_scores (contest, "timestamp")`,
}
