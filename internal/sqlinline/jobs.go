package sqlinline

const QInsertJob = `--sql 5b906930-276c-4eb2-aba7-eaf281efed67
insert into jobs (id, status, instruction, model, total_images, completed_images, failed_images, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, 0, 0, 0, $5::timestamptz, $5::timestamptz);
`

const QSelectJob = `--sql 065bb429-a163-4ea6-bd68-6d3fd62cdb7b
select id, status, instruction, model, total_images, completed_images, failed_images,
       created_at, updated_at, started_at, completed_at
from jobs
where id = $1::text;
`

const QListProcessingJobs = `--sql 0a86d2fe-2213-45d6-85d5-bbe18b52e8cd
select id, status, instruction, model, total_images, completed_images, failed_images,
       created_at, updated_at, started_at, completed_at
from jobs
where status = 'PROCESSING'
order by created_at asc;
`

const QListJobsCreatedBefore = `--sql 94f4147c-14e9-4fde-be76-c338a6196220
select id
from jobs
where created_at < $1::timestamptz
order by created_at asc;
`

const QIncrementJobTotal = `--sql a7d69378-8c0a-4b14-881d-755f5dcc6347
update jobs
set total_images = total_images + 1,
    updated_at = $2::timestamptz
where id = $1::text;
`

const QIncrementJobCompleted = `--sql 65feb406-dc09-4582-b3bf-ca2f53ac63ab
update jobs
set completed_images = completed_images + 1,
    updated_at = $2::timestamptz
where id = $1::text;
`

const QIncrementJobFailed = `--sql 2fd2b677-22ba-429c-9fb9-3ebca3c5d61f
update jobs
set failed_images = failed_images + $2::int,
    updated_at = $3::timestamptz
where id = $1::text;
`

const QStartJob = `--sql fe53f7c3-adc2-48a8-b09c-7db0b6715a5d
update jobs
set status = 'PROCESSING',
    started_at = coalesce(started_at, $2::timestamptz),
    updated_at = $2::timestamptz
where id = $1::text
  and status = 'PENDING';
`

const QCancelJob = `--sql b6d2975a-03af-4600-bd0e-ca9c04b48b1f
update jobs
set status = 'CANCELLED',
    updated_at = $2::timestamptz
where id = $1::text
  and status in ('PENDING', 'PROCESSING');
`

// QFinalizeJob closes a PROCESSING job and rewrites its counters from a recount.
const QFinalizeJob = `--sql e14c4673-77b6-4737-b385-711c0362e846
update jobs
set status = $2::text,
    total_images = $3::int,
    completed_images = $4::int,
    failed_images = $5::int,
    completed_at = $6::timestamptz,
    updated_at = $6::timestamptz
where id = $1::text
  and status = 'PROCESSING';
`

const QReopenJob = `--sql 7742af46-318d-4736-8e5d-042a887eb76c
update jobs
set status = 'PROCESSING',
    failed_images = greatest(failed_images - $2::int, 0),
    completed_at = null,
    updated_at = $3::timestamptz
where id = $1::text
  and status in ('PROCESSING', 'COMPLETED', 'FAILED');
`

const QDeleteJob = `--sql cb874394-2286-409c-9e42-7f1c2a0410fc
delete from jobs
where id = $1::text;
`
