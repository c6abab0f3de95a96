package sqlinline

const QInsertEnhancementAttempt = `--sql 3b9e6c1f-5d2a-4e7b-9c84-0f1a2b3c4d5e
insert into enhancement_attempts(
  id,
  image_id,
  image_name,
  quality,
  integrity_mode,
  resolution,
  instruction,
  model,
  outcome,
  error,
  duration_ms,
  created_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  $6::text,
  $7::text,
  $8::text,
  $9::text,
  $10::text,
  $11::bigint,
  $12::timestamptz
);
`

const QListRecentEnhancementAttempts = `--sql 7c2d4e6f-8a1b-4c3d-9e5f-6a7b8c9d0e1f
select
  id::text,
  image_id,
  image_name,
  quality,
  integrity_mode,
  resolution,
  instruction,
  model,
  outcome,
  error,
  duration_ms,
  created_at
from enhancement_attempts
order by created_at desc
limit $1::int;
`
